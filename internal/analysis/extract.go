package analysis

import (
	"slices"
	"strings"
	"time"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// document is one analyzable text with the fields clustering and
// summarizing need.
type document struct {
	Text       string
	Source     string
	Engagement int
	CreatedAt  time.Time
}

// extractDocuments flattens a payload into documents. Batch payloads are
// read per source so each document keeps the scraper it came from.
func extractDocuments(p *model.Payload) []document {
	var docs []document
	if len(p.BySource) > 0 {
		for _, src := range sourceOrder(p) {
			docs = appendItems(docs, src, p.BySource[src])
		}
		return docs
	}
	return appendItems(docs, p.Source, p.Data)
}

// sourceOrder lists by_source keys in the payload's declared order, then
// any undeclared keys.
func sourceOrder(p *model.Payload) []string {
	seen := make(map[string]bool, len(p.BySource))
	var out []string
	for _, s := range p.Sources {
		if _, ok := p.BySource[s]; ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	var rest []string
	for s := range p.BySource {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

func appendItems(docs []document, source string, items []model.Item) []document {
	for _, it := range items {
		text := itemText(it)
		if text == "" {
			continue
		}
		src := source
		if src == "" || src == model.BatchScraperName {
			src = it.Source
		}
		docs = append(docs, document{
			Text:       text,
			Source:     src,
			Engagement: engagement(it),
			CreatedAt:  it.CreatedAt,
		})
	}
	return docs
}

// itemText picks the analyzable text for an item by kind.
func itemText(it model.Item) string {
	var text string
	switch it.Kind {
	case "tweet":
		text = it.Text
	default:
		text = strings.TrimSpace(it.Title) + "\n" + strings.TrimSpace(it.Text)
	}
	return strings.TrimSpace(text)
}

func engagement(it model.Item) int {
	if it.Engagement > 0 {
		return it.Engagement
	}
	return it.Score + it.Comments
}

func sourceCounts(docs []document) map[string]int {
	out := make(map[string]int)
	for _, d := range docs {
		out[d.Source]++
	}
	return out
}
