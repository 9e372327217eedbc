// Package store persists run history, scraper descriptors, settings and
// analysis records, and owns the result payload files on disk.
package store

import (
	"context"
	"time"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Scraper string          `json:"scraper,omitempty"`
	Status  model.RunStatus `json:"status,omitempty"`

	// CreatedAfter restricts to runs at or after this instant.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the orchestrator.
type Store interface {
	// Run history. Entries are append-only.
	RecordRun(ctx context.Context, run *model.RunResult) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunResult, error)
	CountRuns(ctx context.Context, filter RunFilter) (int, error)
	// LastRun returns nil when no run has been recorded.
	LastRun(ctx context.Context) (*model.RunResult, error)

	// Scraper descriptors
	SaveDescriptor(ctx context.Context, rec model.DescriptorRecord) error
	ListDescriptors(ctx context.Context) ([]model.DescriptorRecord, error)

	// Settings. ok is false when the key has never been set.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error

	// Analyses
	SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error
	// LatestAnalysis returns nil when the source has never been analyzed.
	LatestAnalysis(ctx context.Context, sourceFilename string) (*model.AnalysisRecord, error)
	GetAnalysis(ctx context.Context, analysisFilename string) (*model.AnalysisRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Setting keys persisted by the orchestrator.
const (
	SettingSchedulerActive = "scheduler.active"
	SettingServerPort      = "server.port"
)

const defaultListLimit = 100

func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
