package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraper-orchestrator/internal/config"
	"github.com/sells-group/scraper-orchestrator/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.5,
	}
	checker := NewChecker(NewCollector(&mockRuns{}), NewAlerter(cfg), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	now := time.Now().UTC()
	runs := &mockRuns{}
	for i := range 3 {
		runs.runs = append(runs.runs, model.RunResult{
			Scraper:   "twitter",
			Status:    model.RunStatusError,
			Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.5,
		MinRunsForAlert:      3,
	}
	checker := NewChecker(NewCollector(runs), NewAlerter(cfg), cfg, func() bool { return true })

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, AlertScraperFailing, alerts[1].Type)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_SnapshotDoesNotSend(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24, MinRunsForAlert: 3}
	checker := NewChecker(NewCollector(&mockRuns{}), NewAlerter(cfg), cfg, func() bool { return true })

	snap, alerts, err := checker.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.RunsTotal)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoRuns, alerts[0].Type)
	assert.Equal(t, int32(0), received.Load())

	checker = NewChecker(NewCollector(&mockRuns{}), NewAlerter(cfg), cfg, nil)
	_, alerts, err = checker.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}
