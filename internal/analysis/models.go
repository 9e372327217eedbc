package analysis

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Model size thresholds in GiB.
const (
	largeModelGB  = 8
	mediumModelGB = 4
)

// ModelLister lists chat models installed on an Ollama server.
type ModelLister struct {
	fetch   fetcher.Fetcher
	baseURL string
}

// NewModelLister creates a lister for the Ollama server at baseURL.
func NewModelLister(f fetcher.Fetcher, baseURL string) *ModelLister {
	return &ModelLister{fetch: f, baseURL: strings.TrimRight(baseURL, "/")}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"models"`
}

// List returns models sorted by size, largest first. Embedding and mini
// models are excluded.
func (l *ModelLister) List(ctx context.Context) ([]model.ModelInfo, error) {
	var tags tagsResponse
	if err := l.fetch.GetJSON(ctx, l.baseURL+"/api/tags", &tags); err != nil {
		return nil, &model.ModelUnavailableError{Backend: "ollama", Err: err}
	}

	out := make([]model.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		lower := strings.ToLower(m.Name)
		if strings.Contains(lower, "embed") || strings.Contains(lower, "mini") {
			continue
		}
		gb := float64(m.Size) / (1 << 30)
		out = append(out, model.ModelInfo{
			Name:     m.Name,
			SizeGB:   math.Round(gb*10) / 10,
			Category: sizeCategory(gb),
		})
		zap.L().Debug("ollama model", zap.String("name", m.Name), zap.String("size", humanize.IBytes(uint64(max(m.Size, 0)))))
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SizeGB > out[b].SizeGB })
	return out, nil
}

func sizeCategory(gb float64) string {
	switch {
	case gb > largeModelGB:
		return "large"
	case gb > mediumModelGB:
		return "medium"
	}
	return "small"
}
