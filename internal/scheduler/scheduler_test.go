package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
)

func noopRun(context.Context, model.Trigger) (*model.RunResult, error) {
	return &model.RunResult{Status: model.RunStatusSuccess}, nil
}

func TestParseDailyTime(t *testing.T) {
	d, err := ParseDailyTime("12:00")
	require.NoError(t, err)
	assert.Equal(t, DailyTime{Hour: 12}, d)
	assert.Equal(t, "12:00", d.String())

	d, err = ParseDailyTime("07:45")
	require.NoError(t, err)
	assert.Equal(t, DailyTime{Hour: 7, Minute: 45}, d)

	for _, bad := range []string{"", "24:00", "12", "noon", "12:60"} {
		_, err := ParseDailyTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestDailyTime_Next(t *testing.T) {
	noon := DailyTime{Hour: 12}
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"before", day.Add(9 * time.Hour), day.Add(12 * time.Hour)},
		{"exactly at", day.Add(12 * time.Hour), day.Add(36 * time.Hour)},
		{"after", day.Add(13 * time.Hour), day.Add(36 * time.Hour)},
		{"month end", time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, noon.Next(tt.from))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("25:00", noopRun)
	assert.Error(t, err)

	_, err = New("12:00", nil)
	assert.Error(t, err)
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s, err := New("12:00", noopRun, WithClock(nil, func(time.Duration) <-chan time.Time {
		return make(chan time.Time)
	}))
	require.NoError(t, err)

	assert.False(t, s.Running())
	assert.True(t, s.Start())
	assert.False(t, s.Start())
	assert.True(t, s.Running())

	st := s.State()
	assert.True(t, st.Active)
	assert.NotNil(t, st.NextFire)

	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
	assert.False(t, s.Running())
	assert.Nil(t, s.State().NextFire)
}

func TestScheduler_SkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	var (
		calls atomic.Int32
		mu    sync.Mutex
		seen  []model.Trigger
	)
	run := func(_ context.Context, trigger model.Trigger) (*model.RunResult, error) {
		calls.Add(1)
		mu.Lock()
		seen = append(seen, trigger)
		mu.Unlock()
		<-release
		return &model.RunResult{Scraper: model.BatchScraperName, RunType: model.RunTypeBatch}, nil
	}

	metrics := monitoring.NewMetrics()
	s, err := New("12:00", run, WithMetrics(metrics))
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, s.Fire(ctx))
	assert.False(t, s.Fire(ctx))
	assert.False(t, s.Fire(ctx))
	assert.True(t, s.State().InFlight)

	close(release)
	s.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []model.Trigger{model.TriggerScheduled}, seen)
	st := s.State()
	assert.Equal(t, int64(2), st.SkippedCount)
	assert.False(t, st.InFlight)
	assert.NotNil(t, st.LastFired)

	// Once the previous run finished the next trigger proceeds.
	assert.True(t, s.Fire(ctx))
	s.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_LoopFiresOnTimer(t *testing.T) {
	now := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	ticks := make(chan time.Time)
	var waits []time.Duration
	var wmu sync.Mutex

	fired := make(chan model.Trigger, 1)
	run := func(_ context.Context, trigger model.Trigger) (*model.RunResult, error) {
		fired <- trigger
		return nil, nil
	}

	s, err := New("12:00", run,
		WithLocation(time.UTC),
		WithClock(
			func() time.Time { return now },
			func(d time.Duration) <-chan time.Time {
				wmu.Lock()
				waits = append(waits, d)
				wmu.Unlock()
				return ticks
			},
		),
	)
	require.NoError(t, err)
	require.True(t, s.Start())
	defer s.Stop()

	ticks <- now

	select {
	case trig := <-fired:
		assert.Equal(t, model.TriggerScheduled, trig)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run did not fire")
	}
	s.Wait()

	wmu.Lock()
	defer wmu.Unlock()
	require.NotEmpty(t, waits)
	assert.Equal(t, time.Minute, waits[0])
}

func TestScheduler_StopLeavesRunInFlight(t *testing.T) {
	release := make(chan struct{})
	var ctxErr atomic.Value
	run := func(ctx context.Context, _ model.Trigger) (*model.RunResult, error) {
		<-release
		if ctx.Err() != nil {
			ctxErr.Store(ctx.Err())
		}
		return nil, nil
	}

	s, err := New("12:00", run, WithClock(nil, func(time.Duration) <-chan time.Time {
		return make(chan time.Time)
	}))
	require.NoError(t, err)
	require.True(t, s.Start())

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.Fire(ctx))
	cancel()
	s.Stop()
	close(release)
	s.Wait()

	assert.Nil(t, ctxErr.Load())
}
