package model

import "time"

// RunStatus is the outcome of a scraper run.
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusError          RunStatus = "error"
	RunStatusPending        RunStatus = "pending"
)

// HasPayload reports whether runs with this status carry a result file.
func (s RunStatus) HasPayload() bool {
	return s == RunStatusSuccess || s == RunStatusPartialSuccess
}

// RunType distinguishes single-scraper runs from batch ("run all") runs.
type RunType string

const (
	RunTypeSingle RunType = "single"
	RunTypeBatch  RunType = "batch"
)

// Trigger records who started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// BatchScraperName is the scraper name recorded for batch runs.
const BatchScraperName = "batch"

// RunResult is an immutable entry in the run history.
type RunResult struct {
	ID            string          `json:"id"`
	Scraper       string          `json:"scraper"`
	RunType       RunType         `json:"run_type"`
	Scrapers      []string        `json:"scrapers,omitempty"`
	Status        RunStatus       `json:"status"`
	DataCount     int             `json:"data_count"`
	Timestamp     time.Time       `json:"timestamp"`
	Filename      string          `json:"filename,omitempty"`
	Error         string          `json:"error,omitempty"`
	Message       string          `json:"message,omitempty"`
	FailedTargets []string        `json:"failed_targets,omitempty"`
	Results       []ScraperResult `json:"results,omitempty"`
	Trigger       Trigger         `json:"trigger"`
	DurationMs    int64           `json:"duration_ms"`
}

// ScraperResult is one scraper's contribution to a batch run.
type ScraperResult struct {
	Scraper       string    `json:"scraper"`
	Status        RunStatus `json:"status"`
	DataCount     int       `json:"data_count"`
	Error         string    `json:"error,omitempty"`
	FailedTargets []string  `json:"failed_targets,omitempty"`
}

// AggregateStatus folds per-scraper outcomes into a batch status:
// success iff all succeed, error iff none produced data, partial otherwise.
func AggregateStatus(results []ScraperResult) RunStatus {
	if len(results) == 0 {
		return RunStatusSuccess
	}
	var ok, failed int
	for _, r := range results {
		switch r.Status {
		case RunStatusSuccess:
			ok++
		case RunStatusPartialSuccess:
			ok++
			failed++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunStatusSuccess
	case ok == 0:
		return RunStatusError
	default:
		return RunStatusPartialSuccess
	}
}

// Item is a normalized record collected by a scraper.
type Item struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Kind       string         `json:"kind"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text,omitempty"`
	Author     string         `json:"author,omitempty"`
	URL        string         `json:"url,omitempty"`
	Score      int            `json:"score"`
	Comments   int            `json:"comments"`
	Engagement int            `json:"engagement"`
	CreatedAt  time.Time      `json:"created_at"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Payload is the on-disk envelope of a result file.
type Payload struct {
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	DataCount int               `json:"data_count"`
	Data      []Item            `json:"data"`
	Sources   []string          `json:"sources,omitempty"`
	BySource  map[string][]Item `json:"by_source,omitempty"`
}
