// Package orchestrator runs scrapers, records their results and controls
// the daily scheduler. It is the single entry point the API and CLI use.
package orchestrator

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/scraper"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

// Scheduler is the daily trigger the orchestrator starts and stops.
type Scheduler interface {
	Start() bool
	Stop() bool
	Running() bool
}

// Options bound execution and describe the server settings.
type Options struct {
	MaxConcurrency int
	ScraperTimeout time.Duration
	PageSize       int

	Port    int
	Host    string
	Debug   bool
	DataDir string

	Metrics *monitoring.Metrics
}

func (o *Options) defaults() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.ScraperTimeout <= 0 {
		o.ScraperTimeout = 60 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
}

// Orchestrator coordinates scraper runs and server state.
type Orchestrator struct {
	registry *scraper.Registry
	recorder *store.Recorder
	store    store.Store
	opts     Options
	metrics  *monitoring.Metrics

	sched   Scheduler
	schedMu sync.Mutex // orders scheduler changes with their persisted state

	mu       sync.Mutex
	inFlight map[string]struct{}

	port atomic.Int64
}

// New creates an Orchestrator. Call SetScheduler before using scheduler
// control.
func New(reg *scraper.Registry, rec *store.Recorder, opts Options) *Orchestrator {
	opts.defaults()
	o := &Orchestrator{
		registry: reg,
		recorder: rec,
		store:    rec.Store(),
		opts:     opts,
		metrics:  opts.Metrics,
		inFlight: make(map[string]struct{}),
	}
	o.port.Store(int64(opts.Port))
	return o
}

// SetScheduler attaches the daily trigger.
func (o *Orchestrator) SetScheduler(s Scheduler) {
	o.sched = s
}

// Registry returns the scraper registry.
func (o *Orchestrator) Registry() *scraper.Registry { return o.registry }

// PageSize is the run history page size.
func (o *Orchestrator) PageSize() int { return o.opts.PageSize }

// Restore applies persisted descriptors, settings and last-run times.
// Persisted descriptors for names no longer registered are ignored.
func (o *Orchestrator) Restore(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "orchestrator"))

	recs, err := o.store.ListDescriptors(ctx)
	if err != nil {
		return eris.Wrap(err, "orchestrator: list descriptors")
	}
	for _, rec := range recs {
		d, err := o.registry.Get(rec.Name)
		if err != nil {
			log.Warn("ignoring persisted scraper that is not registered", zap.String("scraper", rec.Name))
			continue
		}
		if rec.Type != d.Plugin().Type() {
			log.Warn("ignoring persisted scraper with different type",
				zap.String("scraper", rec.Name),
				zap.String("type", rec.Type),
			)
			continue
		}
		cfg, err := scraper.DecodeConfig(rec.Type, rec.Config)
		if err == nil {
			err = o.registry.Replace(rec.Name, cfg)
		}
		if err != nil {
			log.Warn("persisted scraper config rejected, keeping default",
				zap.String("scraper", rec.Name),
				zap.Error(err),
			)
		}
		if _, err := o.registry.SetEnabled(rec.Name, rec.Enabled); err != nil {
			return err
		}
	}

	for _, d := range o.registry.List() {
		runs, err := o.store.ListRuns(ctx, store.RunFilter{Scraper: d.Name(), Limit: 1})
		if err != nil {
			return eris.Wrapf(err, "orchestrator: last run for %s", d.Name())
		}
		if len(runs) > 0 {
			d.SetLastRun(runs[0].Timestamp)
		}
	}

	if v, ok, err := o.store.GetSetting(ctx, store.SettingServerPort); err != nil {
		return eris.Wrap(err, "orchestrator: load port")
	} else if ok {
		if p, err := strconv.Atoi(v); err == nil && validPort(p) {
			o.port.Store(int64(p))
		}
	}

	active, ok, err := o.store.GetSetting(ctx, store.SettingSchedulerActive)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load scheduler state")
	}
	if ok && active == "true" && o.sched != nil {
		o.sched.Start()
		log.Info("restored active scheduler")
	}
	return nil
}

// IsRunning reports whether the daily scheduler is active.
func (o *Orchestrator) IsRunning() bool {
	return o.sched != nil && o.sched.Running()
}

// Status returns the dashboard snapshot.
func (o *Orchestrator) Status(ctx context.Context) (*model.Status, error) {
	page, err := o.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	last, err := o.store.LastRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: last run")
	}

	st := &model.Status{
		IsRunning:     o.IsRunning(),
		ScrapersCount: o.registry.Len(),
		Scrapers:      o.Scrapers(),
		LastResults:   page.Runs,
	}
	if last != nil {
		ts := last.Timestamp
		st.LastRun = &ts
	}
	return st, nil
}

// RunPage is one page of run history, newest first.
type RunPage struct {
	Runs     []model.RunResult `json:"runs"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int               `json:"total"`
}

// ListRuns returns page (1-based) of the run history.
func (o *Orchestrator) ListRuns(ctx context.Context, page int) (*RunPage, error) {
	if page < 1 {
		page = 1
	}
	size := o.opts.PageSize
	runs, err := o.store.ListRuns(ctx, store.RunFilter{Limit: size, Offset: (page - 1) * size})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list runs")
	}
	total, err := o.store.CountRuns(ctx, store.RunFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: count runs")
	}
	return &RunPage{Runs: runs, Page: page, PageSize: size, Total: total}, nil
}

// Scrapers returns all descriptor summaries in registration order.
func (o *Orchestrator) Scrapers() []model.ScraperSummary {
	list := o.registry.List()
	out := make([]model.ScraperSummary, len(list))
	for i, d := range list {
		out[i] = d.Summary()
	}
	return out
}

// Toggle flips the enabled flag, or sets it when enabled is non-nil, and
// persists the descriptor.
func (o *Orchestrator) Toggle(ctx context.Context, name string, enabled *bool) (*model.ScraperSummary, error) {
	d, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	next := !d.Enabled()
	if enabled != nil {
		next = *enabled
	}
	if _, err := o.registry.SetEnabled(name, next); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, d); err != nil {
		return nil, err
	}
	zap.L().Info("scraper toggled", zap.String("scraper", name), zap.Bool("enabled", next))
	s := d.Summary()
	return &s, nil
}

// Config returns the scraper config with secrets masked.
func (o *Orchestrator) Config(name string) (scraper.Config, error) {
	d, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return scraper.Masked(d.Config()), nil
}

// UpdateConfig validates and applies a partial JSON config, then persists
// it. The returned config is masked.
func (o *Orchestrator) UpdateConfig(ctx context.Context, name string, raw []byte) (scraper.Config, error) {
	cfg, err := o.registry.Configure(name, raw)
	if err != nil {
		return nil, err
	}
	d, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := o.persist(ctx, d); err != nil {
		return nil, err
	}
	zap.L().Info("scraper config updated", zap.String("scraper", name))
	return scraper.Masked(cfg), nil
}

func (o *Orchestrator) persist(ctx context.Context, d *scraper.Descriptor) error {
	raw, err := json.Marshal(d.Config())
	if err != nil {
		return eris.Wrapf(err, "orchestrator: marshal config for %s", d.Name())
	}
	err = o.store.SaveDescriptor(ctx, model.DescriptorRecord{
		Name:    d.Name(),
		Type:    d.Plugin().Type(),
		Enabled: d.Enabled(),
		Config:  raw,
	})
	return eris.Wrapf(err, "orchestrator: persist %s", d.Name())
}
