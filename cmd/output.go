package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// writeFormatted encodes v as json or yaml.
func writeFormatted(out io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func statusColor(s model.RunStatus) *color.Color {
	switch s {
	case model.RunStatusSuccess:
		return color.New(color.FgGreen)
	case model.RunStatusPartialSuccess:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// ago renders t relative to now, or "never".
func ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

// formatRunResult writes a single or batch run summary to out.
func formatRunResult(out io.Writer, run *model.RunResult) {
	_, _ = fmt.Fprintf(out, "%s %s  ", run.Scraper, statusColor(run.Status).Sprint(run.Status))
	_, _ = fmt.Fprintf(out, "%s items in %s\n", humanize.Comma(int64(run.DataCount)), time.Duration(run.DurationMs)*time.Millisecond)
	if run.Message != "" {
		_, _ = fmt.Fprintln(out, run.Message)
	}
	if run.Filename != "" {
		_, _ = fmt.Fprintf(out, "saved %s\n", run.Filename)
	}
	if len(run.Results) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SCRAPER\tSTATUS\tITEMS\tERROR")
		for _, r := range run.Results {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Scraper, r.Status, r.DataCount, truncate(r.Error, 60))
		}
		_ = w.Flush()
	} else if run.Error != "" {
		_, _ = color.New(color.FgRed).Fprintf(out, "error: %s\n", run.Error)
	}
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCRAPER\tSTATUS\tITEMS\tTRIGGER\tWHEN\tFILE")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-----\t-------\t----\t----")
	for _, r := range runs {
		ts := r.Timestamp
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Scraper,
			r.Status,
			r.DataCount,
			r.Trigger,
			ago(&ts),
			r.Filename,
		)
	}
	_ = w.Flush()
}

// formatScrapers writes the scraper summaries to out.
func formatScrapers(out io.Writer, list []model.ScraperSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tENABLED\tLAST RUN")
	for _, s := range list {
		enabled := color.New(color.FgGreen).Sprint("yes")
		if !s.Enabled {
			enabled = color.New(color.FgRed).Sprint("no")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Type, enabled, ago(s.LastRun))
	}
	_ = w.Flush()
}

// formatInsights writes a readable insight report to out.
func formatInsights(out io.Writer, rec *model.AnalysisRecord, cached bool) {
	head := color.New(color.FgCyan, color.Bold)
	src := rec.SourceFilename
	if cached {
		src += " (cached)"
	}
	_, _ = head.Fprintf(out, "Analysis of %s\n", src)
	_, _ = fmt.Fprintf(out, "%d items, %d clusters (%d meaningful), %s via %s\n",
		rec.Stats.TotalItems, rec.Stats.ClustersFound, rec.Stats.MeaningfulClusters, rec.Model, rec.Backend)

	if len(rec.Insights.Opportunities) > 0 {
		_, _ = head.Fprintln(out, "\nOpportunities")
		for _, o := range rec.Insights.Opportunities {
			_, _ = fmt.Fprintf(out, "  - %s (%.0f%%)\n", o.Title, o.Confidence*100)
		}
	}
	if len(rec.Insights.Trends) > 0 {
		_, _ = head.Fprintln(out, "\nTrends")
		for _, t := range rec.Insights.Trends {
			_, _ = fmt.Fprintf(out, "  - %s: %s, %d mentions\n", t.Topic, t.Momentum, t.Mentions)
		}
	}
	if len(rec.Insights.PainPoints) > 0 {
		_, _ = head.Fprintln(out, "\nPain points")
		for _, p := range rec.Insights.PainPoints {
			_, _ = fmt.Fprintf(out, "  - %s\n", p)
		}
	}
	s := rec.Insights.Sentiment
	_, _ = fmt.Fprintf(out, "\nSentiment: %s positive, %d%% neutral, %s negative\n",
		color.New(color.FgGreen).Sprintf("%d%%", s.Positive), s.Neutral, color.New(color.FgRed).Sprintf("%d%%", s.Negative))
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
