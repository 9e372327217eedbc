// Package scraper defines the uniform contract every data source implements
// and the registry that owns scraper descriptors and their configs.
package scraper

import (
	"context"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Description is the static presentation of a plugin.
type Description struct {
	DisplayName string
	Icon        string
}

// Plugin collects items from one kind of source. Plugins are stateless;
// the registry owns configuration.
type Plugin interface {
	// Type identifies the config variant this plugin accepts.
	Type() string
	Describe() Description
	DefaultConfig() Config
	// Run collects items. A non-nil Outcome with FailedTargets signals
	// partial failure; an error means nothing usable was collected.
	Run(ctx context.Context, cfg Config) (*Outcome, error)
}

// TargetFailure records a sub-target (subreddit, query, URL) that failed.
type TargetFailure struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Outcome is the result of a plugin run.
type Outcome struct {
	Items         []model.Item
	FailedTargets []TargetFailure
}

// DataCount returns the number of collected items.
func (o *Outcome) DataCount() int {
	if o == nil {
		return 0
	}
	return len(o.Items)
}

// FailedNames returns the failed sub-target identifiers.
func (o *Outcome) FailedNames() []string {
	if o == nil || len(o.FailedTargets) == 0 {
		return nil
	}
	out := make([]string, len(o.FailedTargets))
	for i, f := range o.FailedTargets {
		out[i] = f.Target
	}
	return out
}

// Status maps an outcome to a run status. All targets failing is an error,
// some failing is a partial success.
func (o *Outcome) Status() model.RunStatus {
	switch {
	case len(o.FailedTargets) == 0:
		return model.RunStatusSuccess
	case len(o.Items) == 0:
		return model.RunStatusError
	default:
		return model.RunStatusPartialSuccess
	}
}

// PartialError returns a PartialFailureError when some targets failed.
func (o *Outcome) PartialError() error {
	if o == nil || len(o.FailedTargets) == 0 {
		return nil
	}
	return &model.PartialFailureError{Failed: o.FailedNames()}
}
