package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

// AnalyzeOptions selects the model and whether to bypass the cache.
type AnalyzeOptions struct {
	Model string `json:"model"`
	Force bool   `json:"force"`
}

// Result is an analysis and whether it came from the cache.
type Result struct {
	Record *model.AnalysisRecord
	Cached bool
}

// Service caches analyses per source file. Concurrent analyses of the same
// file share one pipeline run; reads never wait on it.
type Service struct {
	engine   *Engine
	store    store.Store
	payloads *store.Payloads
	models   *ModelLister
	metrics  *monitoring.Metrics
	group    singleflight.Group
}

// NewService creates a Service. models may be nil when no model listing
// backend is configured.
func NewService(engine *Engine, st store.Store, payloads *store.Payloads, models *ModelLister, metrics *monitoring.Metrics) *Service {
	return &Service{
		engine:   engine,
		store:    st,
		payloads: payloads,
		models:   models,
		metrics:  metrics,
	}
}

// DefaultModel is the model used when a request names none.
func (s *Service) DefaultModel() string { return s.engine.DefaultModel() }

// Analyze returns the cached analysis of filename, or runs the pipeline
// when there is none or opts.Force is set. A failed run leaves the cached
// record untouched.
func (s *Service) Analyze(ctx context.Context, filename string, opts AnalyzeOptions) (*Result, error) {
	if err := store.ValidateFilename(filename); err != nil {
		return nil, err
	}
	if store.IsAnalysisFile(filename) || !s.payloads.Exists(filename) {
		return nil, &model.NotFoundError{Kind: "file", Key: filename}
	}

	if !opts.Force {
		cached, err := s.store.LatestAnalysis(ctx, filename)
		if err != nil {
			return nil, eris.Wrap(err, "analysis: load cached")
		}
		if cached != nil {
			s.metrics.ObserveAnalysis(monitoring.OutcomeCached, 0)
			return &Result{Record: cached, Cached: true}, nil
		}
	}

	ch := s.group.DoChan(filename, func() (any, error) {
		// The shared run outlives any single caller; the engine bounds it.
		runCtx := context.WithoutCancel(ctx)
		if !opts.Force {
			if cached, err := s.store.LatestAnalysis(runCtx, filename); err == nil && cached != nil {
				return &Result{Record: cached, Cached: true}, nil
			}
		}

		start := time.Now()
		rec, err := s.engine.Run(runCtx, filename, opts.Model)
		if err != nil {
			s.metrics.ObserveAnalysis(monitoring.OutcomeFailed, time.Since(start))
			zap.L().Error("analysis failed", zap.String("file", filename), zap.Error(err))
			return nil, err
		}
		if err := s.store.SaveAnalysis(runCtx, rec); err != nil {
			s.metrics.ObserveAnalysis(monitoring.OutcomeFailed, time.Since(start))
			return nil, eris.Wrap(err, "analysis: save record")
		}
		s.metrics.ObserveAnalysis(monitoring.OutcomeAnalyzed, time.Since(start))
		return &Result{Record: rec}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	}
}

// Status reports whether filename has a cached analysis.
func (s *Service) Status(ctx context.Context, filename string) (*model.AnalysisStatus, error) {
	if err := store.ValidateFilename(filename); err != nil {
		return nil, err
	}
	rec, err := s.store.LatestAnalysis(ctx, filename)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: status")
	}
	if rec == nil {
		return &model.AnalysisStatus{Exists: false}, nil
	}
	at := rec.AnalyzedAt
	stats := rec.Stats
	return &model.AnalysisStatus{
		Exists:           true,
		AnalysisFilename: rec.AnalysisFilename,
		AnalyzedAt:       &at,
		Stats:            &stats,
	}, nil
}

// Get loads a stored analysis by its analysis filename.
func (s *Service) Get(ctx context.Context, analysisFilename string) (*model.AnalysisRecord, error) {
	if err := store.ValidateFilename(analysisFilename); err != nil {
		return nil, err
	}
	return s.store.GetAnalysis(ctx, analysisFilename)
}

// Models lists the available insight models.
func (s *Service) Models(ctx context.Context) ([]model.ModelInfo, error) {
	if s.models == nil {
		return nil, &model.ModelUnavailableError{Backend: "ollama", Err: eris.New("model listing not configured")}
	}
	return s.models.List(ctx)
}
