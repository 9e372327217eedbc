package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/config"
	"github.com/sells-group/scraper-orchestrator/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertScraperFailing AlertType = "scraper_failing"
	AlertNoRuns         AlertType = "no_runs"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const serviceName = "scraper-orchestrator"

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("alert webhook", "post")
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    retry,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func (a *Alerter) minRuns() int {
	if a.cfg.MinRunsForAlert <= 0 {
		return 3
	}
	return a.cfg.MinRunsForAlert
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// expectRuns is true while the daily scheduler is active.
func (a *Alerter) Evaluate(snap *MetricsSnapshot, expectRuns bool) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	minRuns := a.minRuns()

	if snap.RunsTotal >= minRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d runs in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, snap.RunsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"total":        snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	for _, h := range snap.Scrapers {
		if h.Consecutive < minRuns {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertScraperFailing,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Scraper %s failed %d times in a row in last %dh",
				h.Name, h.Consecutive, snap.LookbackHours,
			),
			Details: map[string]any{
				"scraper":    h.Name,
				"failures":   h.Consecutive,
				"last_error": h.LastFailure,
			},
			Timestamp: now,
		})
	}

	// A daily schedule should produce at least one run per day.
	if expectRuns && snap.RunsTotal == 0 && snap.LookbackHours >= 24 {
		alerts = append(alerts, Alert{
			Type:     AlertNoRuns,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Scheduler is active but no runs were recorded in last %dh",
				snap.LookbackHours,
			),
			Timestamp: now,
		})
	}

	return alerts
}

// webhookBody is the JSON document posted to the alert webhook.
type webhookBody struct {
	Service string  `json:"service"`
	Alerts  []Alert `json:"alerts"`
}

// SendAlerts posts the alerts not sent within the cooldown to the webhook
// as one batch and returns how many were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	fresh := a.unsent(alerts)
	if len(fresh) == 0 {
		zap.L().Debug("monitoring: alerts suppressed by cooldown", zap.Int("alerts", len(alerts)))
		return 0
	}

	err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, fresh)
	})
	if err != nil {
		zap.L().Error("monitoring: failed to send alerts",
			zap.Int("alerts", len(fresh)),
			zap.Error(err),
		)
		return 0
	}

	a.markSent(fresh)
	for _, alert := range fresh {
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	return len(fresh)
}

// alertKey identifies an alert for cooldown purposes. Scraper alerts are
// tracked per scraper.
func alertKey(al Alert) string {
	if name, ok := al.Details["scraper"].(string); ok {
		return string(al.Type) + ":" + name
	}
	return string(al.Type)
}

func (a *Alerter) unsent(alerts []Alert) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	var out []Alert
	for _, al := range alerts {
		if last, ok := a.lastSent[alertKey(al)]; ok && now.Sub(last) < a.cooldown() {
			continue
		}
		out = append(out, al)
	}
	return out
}

func (a *Alerter) markSent(alerts []Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for _, al := range alerts {
		a.lastSent[alertKey(al)] = now
	}
}

func (a *Alerter) cooldown() time.Duration {
	return time.Duration(a.cfg.AlertCooldownMins) * time.Minute
}

// post sends one batch. 5xx and 429 responses are retryable.
func (a *Alerter) post(ctx context.Context, alerts []Alert) error {
	payload, err := json.Marshal(webhookBody{Service: serviceName, Alerts: alerts})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return resilience.HTTPError(a.cfg.WebhookURL, resp.StatusCode)
	}
	return nil
}
