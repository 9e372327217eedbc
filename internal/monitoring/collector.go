package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

// collectLimit caps the runs scanned per snapshot.
const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal   int     `json:"runs_total"`
	RunsSuccess int     `json:"runs_success"`
	RunsPartial int     `json:"runs_partial"`
	RunsFailed  int     `json:"runs_failed"`
	FailRate    float64 `json:"fail_rate"`

	ItemsCollected int `json:"items_collected"`
	ScheduledRuns  int `json:"scheduled_runs"`
	ManualRuns     int `json:"manual_runs"`

	Scrapers  []ScraperHealth `json:"scrapers"`
	LastRunAt *time.Time      `json:"last_run_at"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ScraperHealth is one scraper's outcomes within the window. Batch members
// are counted alongside single runs.
type ScraperHealth struct {
	Name        string          `json:"name"`
	Runs        int             `json:"runs"`
	Failed      int             `json:"failed"`
	Items       int             `json:"items"`
	LastStatus  model.RunStatus `json:"last_status"`
	Consecutive int             `json:"consecutive_failures"`
	LastFailure string          `json:"last_error,omitempty"`
}

// RunLister is the store subset the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunResult, error)
}

// Collector gathers run-health metrics from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Scrapers:      []ScraperHealth{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// Runs arrive newest first, so a streak ends at the first non-error.
	health := map[string]*ScraperHealth{}
	streakDone := map[string]bool{}
	observe := func(name string, status model.RunStatus, items int, errMsg string) {
		h, ok := health[name]
		if !ok {
			h = &ScraperHealth{Name: name, LastStatus: status}
			health[name] = h
		}
		h.Runs++
		h.Items += items
		if status == model.RunStatusError {
			h.Failed++
			if h.LastFailure == "" {
				h.LastFailure = errMsg
			}
			if !streakDone[name] {
				h.Consecutive++
			}
			return
		}
		streakDone[name] = true
	}

	for i := range runs {
		r := &runs[i]
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusSuccess:
			snap.RunsSuccess++
		case model.RunStatusPartialSuccess:
			snap.RunsPartial++
		case model.RunStatusError:
			snap.RunsFailed++
		}
		switch r.Trigger {
		case model.TriggerScheduled:
			snap.ScheduledRuns++
		default:
			snap.ManualRuns++
		}
		snap.ItemsCollected += r.DataCount
		if snap.LastRunAt == nil {
			ts := r.Timestamp
			snap.LastRunAt = &ts
		}

		if r.RunType == model.RunTypeBatch {
			for _, sr := range r.Results {
				observe(sr.Scraper, sr.Status, sr.DataCount, sr.Error)
			}
			continue
		}
		observe(r.Scraper, r.Status, r.DataCount, r.Error)
	}

	if finished := snap.RunsTotal; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	for _, h := range health {
		snap.Scrapers = append(snap.Scrapers, *h)
	}
	sort.Slice(snap.Scrapers, func(i, j int) bool {
		return snap.Scrapers[i].Name < snap.Scrapers[j].Name
	})
	return snap, nil
}
