package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/scraper"
)

// PlaceholderMessage is recorded when a batch has nothing to run.
const PlaceholderMessage = "No scrapers configured yet"

// acquire marks name as in flight. It reports false if a run is already
// executing for it. The slot is released by execute once the plugin
// returns.
func (o *Orchestrator) acquire(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[name]; busy {
		return false
	}
	o.inFlight[name] = struct{}{}
	return true
}

func (o *Orchestrator) release(name string) {
	o.mu.Lock()
	delete(o.inFlight, name)
	o.mu.Unlock()
}

// RunScraper runs one scraper and records the result. Plugin failures are
// recorded and returned inside the result; the error is reserved for
// requests that never ran.
func (o *Orchestrator) RunScraper(ctx context.Context, name string, trigger model.Trigger) (*model.RunResult, error) {
	d, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !d.Enabled() {
		return nil, &model.DisabledError{Name: name}
	}
	if !o.acquire(name) {
		return nil, &model.AlreadyRunningError{Name: name}
	}

	start := time.Now()
	res := o.execute(ctx, d)

	run := &model.RunResult{
		Scraper:       name,
		RunType:       model.RunTypeSingle,
		Status:        res.Status,
		DataCount:     res.DataCount,
		Error:         res.Error,
		FailedTargets: res.FailedTargets,
		Trigger:       trigger,
		DurationMs:    time.Since(start).Milliseconds(),
	}

	var payload *model.Payload
	if run.Status.HasPayload() {
		payload = &model.Payload{
			Source:    name,
			Timestamp: start.UTC(),
			DataCount: len(res.items),
			Data:      res.items,
		}
	}
	if err := o.record(ctx, run, payload); err != nil {
		return nil, err
	}
	d.SetLastRun(run.Timestamp)
	return run, nil
}

// RunAll runs every enabled scraper concurrently and records one batch
// result. Each scraper's failure is isolated to its own entry.
func (o *Orchestrator) RunAll(ctx context.Context, trigger model.Trigger) (*model.RunResult, error) {
	log := zap.L().With(zap.String("component", "orchestrator"), zap.String("trigger", string(trigger)))
	enabled := o.registry.Enabled()
	start := time.Now()

	if len(enabled) == 0 {
		log.Info("no enabled scrapers, recording placeholder run")
		run := &model.RunResult{
			Scraper: model.BatchScraperName,
			RunType: model.RunTypeBatch,
			Status:  model.RunStatusSuccess,
			Message: PlaceholderMessage,
			Trigger: trigger,
		}
		if err := o.record(ctx, run, nil); err != nil {
			return nil, err
		}
		return run, nil
	}

	log.Info("starting batch run", zap.Int("scrapers", len(enabled)))

	results := make([]scraperRun, len(enabled))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrency)
	for i, d := range enabled {
		g.Go(func() error {
			name := d.Name()
			if !o.acquire(name) {
				results[i] = scraperRun{
					ScraperResult: model.ScraperResult{
						Scraper: name,
						Status:  model.RunStatusError,
						Error:   (&model.AlreadyRunningError{Name: name}).Error(),
					},
				}
				return nil
			}
			results[i] = o.execute(ctx, d)
			return nil
		})
	}
	_ = g.Wait() // members never return errors

	run := &model.RunResult{
		Scraper:  model.BatchScraperName,
		RunType:  model.RunTypeBatch,
		Scrapers: make([]string, len(enabled)),
		Results:  make([]model.ScraperResult, len(enabled)),
		Trigger:  trigger,
	}
	payload := &model.Payload{
		Source:   model.BatchScraperName,
		BySource: map[string][]model.Item{},
		Data:     []model.Item{},
	}
	var errs []string
	for i, r := range results {
		run.Scrapers[i] = r.Scraper
		run.Results[i] = r.ScraperResult
		if r.Status.HasPayload() {
			run.DataCount += r.DataCount
			payload.Sources = append(payload.Sources, r.Scraper)
			payload.BySource[r.Scraper] = r.items
			payload.Data = append(payload.Data, r.items...)
		}
		if r.Status == model.RunStatusError {
			run.FailedTargets = append(run.FailedTargets, r.Scraper)
		}
		if r.Error != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", r.Scraper, r.Error))
		}
	}
	run.Status = model.AggregateStatus(run.Results)
	run.Error = strings.Join(errs, "; ")
	run.DurationMs = time.Since(start).Milliseconds()
	payload.Timestamp = start.UTC()
	payload.DataCount = run.DataCount

	if err := o.record(ctx, run, payload); err != nil {
		return nil, err
	}
	for _, d := range enabled {
		d.SetLastRun(run.Timestamp)
	}

	log.Info("batch run complete",
		zap.String("status", string(run.Status)),
		zap.Int("data_count", run.DataCount),
		zap.Int("failed", len(run.FailedTargets)),
		zap.String("filename", run.Filename),
	)
	return run, nil
}

// scraperRun is one scraper's outcome plus its items.
type scraperRun struct {
	model.ScraperResult
	items []model.Item
}

// execute runs the plugin under the per-scraper timeout and releases the
// in-flight slot taken by acquire. A plugin that ignores cancellation is
// abandoned when the timeout fires, but its name stays in flight until it
// actually returns.
func (o *Orchestrator) execute(ctx context.Context, d *scraper.Descriptor) scraperRun {
	name := d.Name()
	log := zap.L().With(zap.String("scraper", name))

	runCtx, cancel := context.WithTimeout(ctx, o.opts.ScraperTimeout)
	defer cancel()

	type result struct {
		outcome *scraper.Outcome
		err     error
	}
	done := make(chan result, 1)
	o.metrics.RunStarted()
	go func() {
		outcome, err := d.Plugin().Run(runCtx, d.Config())
		// Free the slot before reporting so a caller that saw the result
		// can run the scraper again.
		o.metrics.RunFinished()
		o.release(name)
		done <- result{outcome, err}
	}()

	var (
		outcome *scraper.Outcome
		err     error
	)
	select {
	case r := <-done:
		outcome, err = r.outcome, r.err
	case <-runCtx.Done():
		err = runCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &model.TimeoutError{Op: "scraper " + name, After: o.opts.ScraperTimeout}
	}

	out := scraperRun{ScraperResult: model.ScraperResult{Scraper: name}}
	if outcome != nil {
		out.FailedTargets = outcome.FailedNames()
	}
	if err != nil {
		log.Error("scraper run failed", zap.Error(err))
		out.Status = model.RunStatusError
		out.Error = err.Error()
		return out
	}

	if outcome == nil {
		outcome = &scraper.Outcome{}
	}
	out.items = outcome.Items
	if out.items == nil {
		out.items = []model.Item{}
	}
	out.Status = outcome.Status()
	out.DataCount = len(out.items)
	if perr := outcome.PartialError(); perr != nil {
		out.Error = perr.Error()
		log.Warn("scraper run partially failed", zap.Strings("failed_targets", out.FailedTargets))
	}
	log.Info("scraper run complete",
		zap.String("status", string(out.Status)),
		zap.Int("data_count", out.DataCount),
	)
	return out
}

func (o *Orchestrator) record(ctx context.Context, run *model.RunResult, payload *model.Payload) error {
	// Recording must survive a caller that went away mid-run.
	if err := o.recorder.Record(context.WithoutCancel(ctx), run, payload); err != nil {
		zap.L().Error("failed to record run", zap.String("scraper", run.Scraper), zap.Error(err))
		return err
	}
	o.metrics.ObserveRun(run)
	return nil
}
