package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

const namespace = "scraper"

// Metrics holds the process-wide Prometheus instruments. A nil *Metrics is
// valid and records nothing, so components can be built without one.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	itemsCollected   *prometheus.CounterVec
	inFlight         prometheus.Gauge
	schedulerFires   prometheus.Counter
	schedulerSkipped prometheus.Counter
	analysesTotal    *prometheus.CounterVec
	analysisDuration prometheus.Histogram
}

// NewMetrics creates an independent registry with Go runtime and process
// collectors plus the orchestrator instruments.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Recorded runs by scraper and status.",
		}, []string{"scraper", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of recorded runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"scraper"}),
		itemsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_collected_total",
			Help:      "Items collected by scraper.",
		}, []string{"scraper"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Scraper runs currently executing.",
		}),
		schedulerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_fires_total",
			Help:      "Scheduled triggers that started a batch run.",
		}),
		schedulerSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_skipped_total",
			Help: "Scheduled triggers skipped because a previous run was in flight.",
		}),
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analysis requests by outcome.",
		}, []string{"outcome"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of uncached analyses.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsTotal,
		m.runDuration,
		m.itemsCollected,
		m.inFlight,
		m.schedulerFires,
		m.schedulerSkipped,
		m.analysesTotal,
		m.analysisDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records a finished run. Batch runs also count each member
// scraper's outcome.
func (m *Metrics) ObserveRun(run *model.RunResult) {
	if m == nil || run == nil {
		return
	}
	m.runsTotal.WithLabelValues(run.Scraper, string(run.Status)).Inc()
	m.runDuration.WithLabelValues(run.Scraper).Observe(float64(run.DurationMs) / 1000)

	if run.RunType != model.RunTypeBatch {
		m.itemsCollected.WithLabelValues(run.Scraper).Add(float64(run.DataCount))
		return
	}
	for _, r := range run.Results {
		m.runsTotal.WithLabelValues(r.Scraper, string(r.Status)).Inc()
		m.itemsCollected.WithLabelValues(r.Scraper).Add(float64(r.DataCount))
	}
}

// RunStarted and RunFinished track the in-flight gauge.
func (m *Metrics) RunStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) RunFinished() {
	if m != nil {
		m.inFlight.Dec()
	}
}

// SchedulerFired counts a trigger that started a batch run.
func (m *Metrics) SchedulerFired() {
	if m != nil {
		m.schedulerFires.Inc()
	}
}

// SchedulerSkipped counts a trigger dropped because a run was in flight.
func (m *Metrics) SchedulerSkipped() {
	if m != nil {
		m.schedulerSkipped.Inc()
	}
}

// Analysis outcomes.
const (
	OutcomeAnalyzed = "analyzed"
	OutcomeCached   = "cached"
	OutcomeFailed   = "failed"
)

// ObserveAnalysis records an analysis request. took is ignored for cached
// results.
func (m *Metrics) ObserveAnalysis(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.analysesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeAnalyzed {
		m.analysisDuration.Observe(took.Seconds())
	}
}
