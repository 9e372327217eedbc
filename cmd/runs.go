package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scraper run history",
	Long:  "Commands for listing and summarizing recorded scraper runs. Without a subcommand, lists runs.",
	RunE:  listRuns,
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  listRuns,
}

func listRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	scraperName, _ := cmd.Flags().GetString("scraper")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	output, _ := cmd.Flags().GetString("output")

	runs, err := st.ListRuns(ctx, store.RunFilter{
		Scraper: scraperName,
		Status:  model.RunStatus(status),
		Limit:   limit,
	})
	if err != nil {
		return eris.Wrap(err, "runs list")
	}

	if output != "" {
		return writeFormatted(os.Stdout, output, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "No runs found.")
		return nil
	}
	formatRunsList(os.Stdout, runs)
	return nil
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{Limit: 10000}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runsCmd, runsListCmd} {
		c.Flags().String("scraper", "", "filter by scraper name (batch for batch runs)")
		c.Flags().String("status", "", "filter by run status (success, partial_success, error)")
		c.Flags().Int("limit", 20, "max number of runs to display")
		c.Flags().StringP("output", "o", "", "output format (json, yaml)")
	}

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total     int
	Success   int
	Partial   int
	Failed    int
	Scheduled int
	Items     int
	AvgDurMs  float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.RunResult) runStats {
	var s runStats
	s.Total = len(runs)

	var totalMs int64
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSuccess:
			s.Success++
		case model.RunStatusPartialSuccess:
			s.Partial++
		default:
			s.Failed++
		}
		if r.Trigger == model.TriggerScheduled {
			s.Scheduled++
		}
		s.Items += r.DataCount
		totalMs += r.DurationMs
	}

	if s.Total > 0 {
		s.AvgDurMs = float64(totalMs) / float64(s.Total)
	}
	return s
}

// formatRunStats writes aggregate stats to out.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Success:\t%d\n", s.Success)
	_, _ = fmt.Fprintf(w, "Partial:\t%d\n", s.Partial)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Scheduled:\t%d\n", s.Scheduled)
	_, _ = fmt.Fprintf(w, "Items collected:\t%d\n", s.Items)
	if s.AvgDurMs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurMs/1000)
	}
	_ = w.Flush()
}
