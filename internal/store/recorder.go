package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Recorder appends run results and writes their payload files. The payload
// is written before the history row so a recorded filename always resolves.
type Recorder struct {
	store    Store
	payloads *Payloads
}

// NewRecorder creates a Recorder.
func NewRecorder(s Store, p *Payloads) *Recorder {
	return &Recorder{store: s, payloads: p}
}

// Record persists run and, when its status carries data, payload. A
// payload write failure downgrades the run to an error.
func (r *Recorder) Record(ctx context.Context, run *model.RunResult, payload *model.Payload) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}

	run.Filename = ""
	if payload != nil && run.Status.HasPayload() {
		name, err := r.payloads.Write(run.Scraper, run.Timestamp, payload)
		if err != nil {
			zap.L().Error("store: payload write failed",
				zap.String("scraper", run.Scraper),
				zap.Error(err),
			)
			run.Status = model.RunStatusError
			run.Error = err.Error()
		} else {
			run.Filename = name
		}
	}

	return r.store.RecordRun(ctx, run)
}

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Payloads returns the payload file store.
func (r *Recorder) Payloads() *Payloads { return r.payloads }
