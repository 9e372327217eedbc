package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraper-orchestrator/internal/analysis"
	"github.com/sells-group/scraper-orchestrator/internal/config"
	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/orchestrator"
	"github.com/sells-group/scraper-orchestrator/internal/scheduler"
	"github.com/sells-group/scraper-orchestrator/internal/scraper"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

// topicPlugin returns a fixed set of posts about two topics.
type topicPlugin struct {
	calls atomic.Int32
}

func (p *topicPlugin) Type() string { return scraper.TypeWeb }
func (p *topicPlugin) Describe() scraper.Description {
	return scraper.Description{DisplayName: "Forum", Icon: "globe"}
}

func (p *topicPlugin) DefaultConfig() scraper.Config {
	return &scraper.WebConfig{URLs: []string{"https://example.com"}, MaxChars: 4000}
}

func (p *topicPlugin) Run(context.Context, scraper.Config) (*scraper.Outcome, error) {
	p.calls.Add(1)
	texts := []string{
		"python packaging is painful",
		"python typing keeps improving",
		"python async tooling wanted",
		"rust compile times are slow",
		"rust borrow checker finally clicked",
	}
	out := &scraper.Outcome{}
	for i, text := range texts {
		out.Items = append(out.Items, model.Item{
			ID:         string(rune('a' + i)),
			Source:     "forum",
			Kind:       "page",
			Text:       text,
			Engagement: 10 - i,
			CreatedAt:  time.Date(2026, 3, 1, i, 0, 0, 0, time.UTC),
		})
	}
	return out, nil
}

// keywordEmbedder maps texts onto two orthogonal topic axes.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "python"):
			out[i] = []float32{1, 0}
		case strings.Contains(t, "rust"):
			out[i] = []float32{0, 1}
		default:
			out[i] = []float32{-1, -1}
		}
	}
	return out, nil
}

type fixture struct {
	handler  http.Handler
	orch     *orchestrator.Orchestrator
	plugin   *topicPlugin
	payloads *store.Payloads
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	payloads, err := store.NewPayloads(filepath.Join(dir, "data"))
	require.NoError(t, err)

	plugin := &topicPlugin{}
	reg := scraper.NewRegistry()
	_, err = reg.Register(scraper.Registration{Name: "forum", Plugin: plugin, Enabled: true})
	require.NoError(t, err)

	metrics := monitoring.NewMetrics()
	orch := orchestrator.New(reg, store.NewRecorder(st, payloads), orchestrator.Options{
		Port:    5001,
		Host:    "127.0.0.1",
		DataDir: payloads.Dir(),
		Metrics: metrics,
	})
	sched, err := scheduler.New("12:00", orch.RunAll, scheduler.WithClock(nil, func(time.Duration) <-chan time.Time {
		return make(chan time.Time)
	}))
	require.NoError(t, err)
	orch.SetScheduler(sched)
	t.Cleanup(func() { sched.Stop() })

	engine := analysis.NewEngine(payloads, keywordEmbedder{}, nil, analysis.Options{})
	svc := analysis.NewService(engine, st, payloads, nil, metrics)

	monCfg := config.MonitoringConfig{LookbackWindowHours: 24, FailureRateThreshold: 0.5, MinRunsForAlert: 3}
	checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(monCfg), monCfg, orch.IsRunning)

	srv := NewServer(Deps{
		Orchestrator:   orch,
		Analysis:       svc,
		Payloads:       payloads,
		Metrics:        metrics,
		Checker:        checker,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	return &fixture{handler: srv.Router(), orch: orch, plugin: plugin, payloads: payloads}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) runForum(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/scrapers/forum/run", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	name, _ := body["filename"].(string)
	require.NotEmpty(t, name)
	return name
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus_Empty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["is_running"])
	assert.Equal(t, float64(1), body["scrapers_count"])
	assert.Nil(t, body["last_run"])
	assert.Empty(t, body["last_results"])
}

func TestRunScraper_RecordsAndServesResult(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/scrapers/forum/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(5), body["data_count"])
	assert.NotContains(t, body, "error")
	name := body["filename"].(string)
	assert.True(t, strings.HasPrefix(name, "forum_"))

	w = f.do(t, http.MethodGet, "/api/results/"+name, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var payload model.Payload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "forum", payload.Source)
	assert.Len(t, payload.Data, 5)

	w = f.do(t, http.MethodGet, "/api/results/"+name+"/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="`+name+`"`, w.Header().Get("Content-Disposition"))

	w = f.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode(t, w)
	assert.Equal(t, float64(1), runs["total"])
}

func TestRunScraper_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/scrapers/nope/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/scrapers/forum/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"forum","enabled":false}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/scrapers/forum/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "disabled")
	assert.Equal(t, int32(0), f.plugin.calls.Load())
}

func TestToggle_ExplicitValue(t *testing.T) {
	f := newFixture(t)
	for range 2 {
		w := f.do(t, http.MethodPost, "/api/scrapers/forum/toggle", `{"enabled":true}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"name":"forum","enabled":true}`, w.Body.String())
	}

	w := f.do(t, http.MethodPost, "/api/scrapers/forum/toggle", `{"enabled":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunNow(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/server/run-now", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "batch", result["scraper"])
	assert.Equal(t, "success", result["status"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "forum", results[0].(map[string]any)["scraper"])
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/server/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"started","is_running":true}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/server/start", "")
	assert.JSONEq(t, `{"status":"already_running","is_running":true}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/server/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"stopped","is_running":false}`, w.Body.String())
	assert.False(t, f.orch.IsRunning())
}

func TestSettingsPort(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"port":80}`, `{"port":70000}`, `{}`, `{"port":"abc"}`, ``} {
		w := f.do(t, http.MethodPost, "/api/settings/port", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "Invalid port number", decode(t, w)["error"], body)
	}

	w := f.do(t, http.MethodPost, "/api/settings/port", `{"port":8080}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"updated","port":8080}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(8080), decode(t, w)["port"])
}

func TestScraperConfig(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/scrapers/forum/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"urls":["https://example.com"],"max_chars":4000}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/scrapers/forum/config", `{"max_chars":50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "max_chars", decode(t, w)["field"])

	w = f.do(t, http.MethodPost, "/api/scrapers/forum/config", `{"max_chars":2000}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "updated", body["status"])
	assert.Equal(t, float64(2000), body["config"].(map[string]any)["max_chars"])

	w = f.do(t, http.MethodPost, "/api/scrapers/forum/config", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/scrapers/ghost/config", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScrapersList(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/scrapers", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Scrapers []model.ScraperSummary `json:"scrapers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Scrapers, 1)
	assert.Equal(t, "forum", body.Scrapers[0].Name)
	assert.True(t, body.Scrapers[0].Enabled)
}

func TestResults_RejectsBadNames(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/api/results/missing_20260101_000000.json",
		"/api/results/..%2Fsecret.json",
		"/api/results/notjson.txt",
	} {
		w := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestAnalyze_ThenCached(t *testing.T) {
	f := newFixture(t)
	name := f.runForum(t)

	w := f.do(t, http.MethodGet, "/api/analysis/status/"+name, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"exists":false}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/analyze/"+name, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, name, body["filename"])
	analysisName := body["analysis_filename"].(string)
	assert.True(t, strings.HasSuffix(analysisName, ".json"))
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(5), stats["total_items"])
	assert.Equal(t, float64(2), stats["meaningful_clusters"])
	insights := body["insights"].(map[string]any)
	assert.Len(t, insights["opportunities"], 2)

	w = f.do(t, http.MethodPost, "/api/analyze/"+name, `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, analysisName, body["analysis_filename"])

	w = f.do(t, http.MethodGet, "/api/analysis/status/"+name, "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, true, status["exists"])
	assert.Equal(t, analysisName, status["analysis_filename"])

	w = f.do(t, http.MethodGet, "/api/analysis/"+analysisName, "")
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode(t, w)
	assert.Equal(t, name, rec["source_file"])
	assert.Equal(t, analysis.BackendHeuristic, rec["backend"])
}

func TestAnalyze_MissingFileKeepsShape(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/analyze/forum_20200101_000000.json", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
	assert.JSONEq(t,
		`{"opportunities":[],"trends":[],"pain_points":[],"sentiment":{"positive":0,"neutral":100,"negative":0}}`,
		mustJSON(t, body["analysis"]),
	)
}

func TestAnalyze_BadBody(t *testing.T) {
	f := newFixture(t)
	name := f.runForum(t)
	w := f.do(t, http.MethodPost, "/api/analyze/"+name, `{"force":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestAnalysisModels_Unavailable(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/analysis/models", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoints(t *testing.T) {
	f := newFixture(t)
	f.runForum(t)

	w := f.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "metrics")
	assert.Equal(t, []any{}, body["alerts"])

	w = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `scraper_runs_total{scraper="forum",status="success"} 1`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewValidationError("x", "bad"), http.StatusBadRequest},
		{&model.NotFoundError{Kind: "scraper", Key: "x"}, http.StatusNotFound},
		{&model.DisabledError{Name: "x"}, http.StatusConflict},
		{&model.AlreadyRunningError{Name: "x"}, http.StatusConflict},
		{&model.ModelUnavailableError{Backend: "ollama"}, http.StatusServiceUnavailable},
		{&model.TimeoutError{Op: "analysis"}, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
