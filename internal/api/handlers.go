package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/scraper-orchestrator/internal/analysis"
	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	runs, err := s.orch.ListRuns(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, r, &model.NotFoundError{Kind: "endpoint", Key: r.URL.Path})
		return
	}
	snap, alerts, err := s.checker.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": snap, "alerts": alerts})
}

// --- scheduler control ---

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	started, err := s.orch.StartScheduler(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := "started"
	if !started {
		status = "already_running"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "is_running": s.orch.IsRunning()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopScheduler(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "is_running": s.orch.IsRunning()})
}

// handleRunNow runs every enabled scraper synchronously. The run is
// detached from the request so a dropped connection does not abort it.
func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.RunAll(context.WithoutCancel(r.Context()), model.TriggerManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results := run.Results
	if results == nil {
		results = []model.ScraperResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"result":  run,
		"results": results,
	})
}

// --- settings ---

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Settings())
}

func (s *Server) handleUpdatePort(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port *int `json:"port"`
	}
	if err := decodeOptional(r, &body); err != nil || body.Port == nil {
		writeError(w, r, model.NewValidationError("port", "Invalid port number"))
		return
	}
	if err := s.orch.UpdatePort(r.Context(), *body.Port); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "port": *body.Port})
}

// --- scrapers ---

func (s *Server) handleScrapers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scrapers": s.orch.Scrapers()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.orch.Config(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		writeError(w, r, model.NewValidationError("", "config object required"))
		return
	}
	cfg, err := s.orch.UpdateConfig(r.Context(), chi.URLParam(r, "name"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "config": cfg})
}

func (s *Server) handleRunScraper(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.RunScraper(context.WithoutCancel(r.Context()), chi.URLParam(r, "name"), model.TriggerManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := map[string]any{
		"status":     run.Status,
		"data_count": run.DataCount,
		"result":     run,
	}
	if run.Filename != "" {
		body["filename"] = run.Filename
	}
	if run.Error != "" {
		body["error"] = run.Error
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := s.orch.Toggle(r.Context(), chi.URLParam(r, "name"), body.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": sum.Name, "enabled": sum.Enabled})
}

// --- results ---

func (s *Server) readResult(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	name := chi.URLParam(r, "filename")
	if err := store.ValidateFilename(name); err != nil {
		writeError(w, r, err)
		return "", nil, false
	}
	body, err := s.payloads.Read(name)
	if err != nil {
		writeError(w, r, err)
		return "", nil, false
	}
	return name, body, true
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	_, body, ok := s.readResult(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name, body, ok := s.readResult(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(body)
}

// --- analysis ---

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	var opts analysis.AnalyzeOptions
	if err := decodeOptional(r, &opts); err != nil {
		writeAnalyzeError(w, r, err)
		return
	}
	res, err := s.analysis.Analyze(r.Context(), filename, opts)
	if err != nil {
		writeAnalyzeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"filename":          filename,
		"analysis_filename": res.Record.AnalysisFilename,
		"insights":          res.Record.Insights,
		"stats":             res.Record.Stats,
		"cached":            res.Cached,
	})
}

// writeAnalyzeError keeps the analyze response shape on failure so the
// dashboard can always render an empty insights panel.
func writeAnalyzeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logFailure(r, status, err)
	}
	body := errorBody(err)
	body["success"] = false
	body["analysis"] = model.EmptyInsights()
	writeJSON(w, status, body)
}

func (s *Server) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.analysis.Status(r.Context(), chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.analysis.Get(r.Context(), chi.URLParam(r, "analysisFilename"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.analysis.Models(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "default": s.analysis.DefaultModel()})
}
