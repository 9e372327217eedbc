// Package scheduler fires a batch run once a day at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
)

// RunFunc starts a batch run. The scheduler always passes TriggerScheduled.
type RunFunc func(ctx context.Context, trigger model.Trigger) (*model.RunResult, error)

// DailyTime is a wall-clock "HH:MM".
type DailyTime struct {
	Hour   int
	Minute int
}

// ParseDailyTime parses "HH:MM" in 24-hour form.
func ParseDailyTime(s string) (DailyTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return DailyTime{}, eris.Wrapf(err, "scheduler: invalid daily time %q", s)
	}
	return DailyTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (d DailyTime) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// Next returns the first instant strictly after from that falls on d in
// from's location.
func (d DailyTime) Next(from time.Time) time.Time {
	y, m, day := from.Date()
	next := time.Date(y, m, day, d.Hour, d.Minute, 0, 0, from.Location())
	if !next.After(from) {
		next = time.Date(y, m, day+1, d.Hour, d.Minute, 0, 0, from.Location())
	}
	return next
}

// State is a snapshot of the scheduler.
type State struct {
	Active       bool       `json:"active"`
	DailyAt      string     `json:"daily_at"`
	NextFire     *time.Time `json:"next_fire,omitempty"`
	LastFired    *time.Time `json:"last_fired,omitempty"`
	InFlight     bool       `json:"in_flight"`
	SkippedCount int64      `json:"skipped_count"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now and the timer source.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if after != nil {
			s.after = after
		}
	}
}

// WithMetrics records fires and skips.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLocation sets the zone the daily time is evaluated in. Default is
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Scheduler triggers RunFunc daily. Start and Stop are idempotent and at
// most one scheduled run is in flight at a time.
type Scheduler struct {
	at      DailyTime
	run     RunFunc
	metrics *monitoring.Metrics
	loc     *time.Location
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	loopWG sync.WaitGroup

	runs      sync.WaitGroup
	inFlight  atomic.Bool
	lastFired atomic.Pointer[time.Time]
	skipped   atomic.Int64
}

// New creates a stopped scheduler firing at dailyAt ("HH:MM").
func New(dailyAt string, run RunFunc, opts ...Option) (*Scheduler, error) {
	at, err := ParseDailyTime(dailyAt)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, eris.New("scheduler: run func is required")
	}
	s := &Scheduler{
		at:    at,
		run:   run,
		loc:   time.Local,
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the daily loop. It returns false if already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		s.loop(ctx)
	}()

	zap.L().Info("scheduler: started",
		zap.String("daily_at", s.at.String()),
		zap.Time("next_fire", s.NextFire()),
	)
	return true
}

// Stop halts the loop. A run already in flight is left to finish. It
// returns false if the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	s.loopWG.Wait()
	zap.L().Info("scheduler: stopped")
	return true
}

// Running reports whether the daily loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// NextFire returns the next trigger instant from the scheduler clock.
func (s *Scheduler) NextFire() time.Time {
	return s.at.Next(s.now().In(s.loc))
}

// Fire triggers a scheduled batch run on a new goroutine. It returns false
// and counts a skip when a previous scheduled run is still in flight.
func (s *Scheduler) Fire(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.metrics.SchedulerSkipped()
		zap.L().Warn("scheduler: skipping trigger, previous run in flight")
		return false
	}

	fired := s.now()
	s.lastFired.Store(&fired)
	s.metrics.SchedulerFired()

	// The batch outlives the caller and Stop.
	runCtx := context.WithoutCancel(ctx)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.inFlight.Store(false)

		result, err := s.run(runCtx, model.TriggerScheduled)
		if err != nil {
			zap.L().Error("scheduler: scheduled run failed", zap.Error(err))
			return
		}
		if result != nil {
			zap.L().Info("scheduler: scheduled run complete",
				zap.String("status", string(result.Status)),
				zap.Int("data_count", result.DataCount),
			)
		}
	}()
	return true
}

// Wait blocks until in-flight scheduled runs have returned.
func (s *Scheduler) Wait() {
	s.runs.Wait()
}

// State returns a snapshot for status reporting.
func (s *Scheduler) State() State {
	st := State{
		Active:       s.Running(),
		DailyAt:      s.at.String(),
		InFlight:     s.inFlight.Load(),
		SkippedCount: s.skipped.Load(),
	}
	if st.Active {
		next := s.NextFire()
		st.NextFire = &next
	}
	if t := s.lastFired.Load(); t != nil {
		fired := *t
		st.LastFired = &fired
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		now := s.now().In(s.loc)
		wait := s.at.Next(now).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
			s.Fire(ctx)
		}
	}
}
