// Package api serves the dashboard JSON API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/analysis"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/orchestrator"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

// Deps are the components the API serves. Metrics and Checker are
// optional.
type Deps struct {
	Orchestrator   *orchestrator.Orchestrator
	Analysis       *analysis.Service
	Payloads       *store.Payloads
	Metrics        *monitoring.Metrics
	Checker        *monitoring.Checker
	AllowedOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	orch     *orchestrator.Orchestrator
	analysis *analysis.Service
	payloads *store.Payloads
	metrics  *monitoring.Metrics
	checker  *monitoring.Checker
	origins  []string
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	return &Server{
		orch:     d.Orchestrator,
		analysis: d.Analysis,
		payloads: d.Payloads,
		metrics:  d.Metrics,
		checker:  d.Checker,
		origins:  d.AllowedOrigins,
	}
}

// Router builds the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleRuns)
		r.Get("/metrics", s.handleMetrics)

		r.Post("/server/start", s.handleStart)
		r.Post("/server/stop", s.handleStop)
		r.Post("/server/run-now", s.handleRunNow)

		r.Get("/settings", s.handleSettings)
		r.Post("/settings/port", s.handleUpdatePort)

		r.Get("/scrapers", s.handleScrapers)
		r.Route("/scrapers/{name}", func(r chi.Router) {
			r.Get("/config", s.handleGetConfig)
			r.Post("/config", s.handleUpdateConfig)
			r.Post("/run", s.handleRunScraper)
			r.Post("/toggle", s.handleToggle)
		})

		r.Get("/results/{filename}", s.handleResult)
		r.Get("/results/{filename}/download", s.handleDownload)

		r.Post("/analyze/{filename}", s.handleAnalyze)
		r.Get("/analysis/status/{filename}", s.handleAnalysisStatus)
		r.Get("/analysis/models", s.handleModels)
		r.Get("/analysis/{analysisFilename}", s.handleGetAnalysis)
	})
	return r
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
