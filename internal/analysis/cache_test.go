package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

type serviceFixture struct {
	*engineFixture
	svc     *Service
	store   store.Store
	metrics *monitoring.Metrics
}

func newServiceFixture(t *testing.T, fake *fakeOllama, opts Options) *serviceFixture {
	t.Helper()
	fx := newEngineFixture(t, fake, opts)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	// Analysis filenames embed the clock, so advance it per run.
	var mu sync.Mutex
	tick := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fx.engine.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Minute)
		return tick
	}

	metrics := monitoring.NewMetrics()
	lister := NewModelLister(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1}), fx.server.URL)
	return &serviceFixture{
		engineFixture: fx,
		svc:           NewService(fx.engine, st, fx.payloads, lister, metrics),
		store:         st,
		metrics:       metrics,
	}
}

func TestService_AnalyzeTwiceReturnsCached(t *testing.T) {
	fx := newServiceFixture(t, &fakeOllama{chatContent: llmInsights}, Options{})
	ctx := context.Background()

	st, err := fx.svc.Status(ctx, fx.filename)
	require.NoError(t, err)
	assert.False(t, st.Exists)

	first, err := fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	st, err = fx.svc.Status(ctx, fx.filename)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, first.Record.AnalysisFilename, st.AnalysisFilename)
	require.NotNil(t, st.Stats)
	assert.Equal(t, 6, st.Stats.TotalItems)
	require.NotNil(t, st.AnalyzedAt)

	second, err := fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Record.AnalysisFilename, second.Record.AnalysisFilename)
	assert.Equal(t, int32(1), fx.ollama.chatCalls.Load())

	got, err := fx.svc.Get(ctx, first.Record.AnalysisFilename)
	require.NoError(t, err)
	assert.Equal(t, first.Record.Insights, got.Insights)

	assert.Contains(t, scrape(t, fx.metrics), `scraper_analyses_total{outcome="analyzed"} 1`)
	assert.Contains(t, scrape(t, fx.metrics), `scraper_analyses_total{outcome="cached"} 1`)
}

func TestService_ForceReanalyzes(t *testing.T) {
	fx := newServiceFixture(t, &fakeOllama{chatContent: llmInsights}, Options{})
	ctx := context.Background()

	first, err := fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{})
	require.NoError(t, err)
	forced, err := fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{Force: true})
	require.NoError(t, err)

	assert.False(t, forced.Cached)
	assert.NotEqual(t, first.Record.AnalysisFilename, forced.Record.AnalysisFilename)

	st, err := fx.svc.Status(ctx, fx.filename)
	require.NoError(t, err)
	assert.Equal(t, forced.Record.AnalysisFilename, st.AnalysisFilename)
}

func TestService_FailureKeepsCachedRecord(t *testing.T) {
	fx := newServiceFixture(t, &fakeOllama{chatContent: llmInsights}, Options{})
	ctx := context.Background()

	first, err := fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{})
	require.NoError(t, err)

	fx.server.Close()
	_, err = fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{Force: true})
	var mu *model.ModelUnavailableError
	require.True(t, errors.As(err, &mu), "got %v", err)

	st, err := fx.svc.Status(ctx, fx.filename)
	require.NoError(t, err)
	assert.Equal(t, first.Record.AnalysisFilename, st.AnalysisFilename)
	assert.Contains(t, scrape(t, fx.metrics), `scraper_analyses_total{outcome="failed"} 1`)
}

func TestService_ConcurrentAnalysesShareOneRun(t *testing.T) {
	fake := &fakeOllama{chatContent: llmInsights, chatDelay: 200 * time.Millisecond}
	fx := newServiceFixture(t, fake, Options{})
	ctx := context.Background()

	const callers = 5
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Record.AnalysisFilename, results[i].Record.AnalysisFilename)
	}
	assert.Equal(t, int32(1), fake.chatCalls.Load())
}

func TestService_NotFound(t *testing.T) {
	fx := newServiceFixture(t, &fakeOllama{}, Options{})
	ctx := context.Background()

	_, err := fx.svc.Analyze(ctx, "missing_20260101_000000.json", AnalyzeOptions{})
	assert.True(t, model.IsNotFound(err))

	_, err = fx.svc.Analyze(ctx, "../etc/passwd", AnalyzeOptions{})
	assert.True(t, model.IsNotFound(err))

	_, err = fx.svc.Get(ctx, "missing_analysis_20260101_000000.json")
	assert.True(t, model.IsNotFound(err))

	_, err = fx.svc.Status(ctx, "bad name")
	assert.True(t, model.IsNotFound(err))
}

func TestService_RejectsAnalysisFileAsSource(t *testing.T) {
	fx := newServiceFixture(t, &fakeOllama{chatContent: llmInsights}, Options{})
	ctx := context.Background()

	first, err := fx.svc.Analyze(ctx, fx.filename, AnalyzeOptions{})
	require.NoError(t, err)
	require.True(t, fx.payloads.Exists(first.Record.AnalysisFilename))

	_, err = fx.svc.Analyze(ctx, first.Record.AnalysisFilename, AnalyzeOptions{})
	assert.True(t, model.IsNotFound(err))

	st, err := fx.svc.Status(ctx, first.Record.AnalysisFilename)
	require.NoError(t, err)
	assert.False(t, st.Exists)
}

func TestService_Models(t *testing.T) {
	fake := &fakeOllama{tags: `{"models": [
		{"name": "qwen2.5:14b", "size": 9019431321},
		{"name": "nomic-embed-text:latest", "size": 274302450},
		{"name": "llama3.1:8b", "size": 4920753328},
		{"name": "phi3:mini", "size": 2176178913},
		{"name": "gemma2:2b", "size": 1629518495}
	]}`}
	fx := newServiceFixture(t, fake, Options{})

	models, err := fx.svc.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.ModelInfo{
		{Name: "qwen2.5:14b", SizeGB: 8.4, Category: "large"},
		{Name: "llama3.1:8b", SizeGB: 4.6, Category: "medium"},
		{Name: "gemma2:2b", SizeGB: 1.5, Category: "small"},
	}, models)
	assert.Equal(t, "qwen2.5:14b", fx.svc.DefaultModel())
}

func TestService_ModelsUnavailable(t *testing.T) {
	fx := newServiceFixture(t, &fakeOllama{}, Options{})
	fx.server.Close()

	_, err := fx.svc.Models(context.Background())
	var mu *model.ModelUnavailableError
	assert.True(t, errors.As(err, &mu))

	_, err = NewService(fx.engine, fx.store, fx.payloads, nil, nil).Models(context.Background())
	assert.True(t, errors.As(err, &mu))
}

func TestSizeCategory(t *testing.T) {
	assert.Equal(t, "large", sizeCategory(8.1))
	assert.Equal(t, "medium", sizeCategory(8))
	assert.Equal(t, "medium", sizeCategory(4.1))
	assert.Equal(t, "small", sizeCategory(4))
}

func scrape(t *testing.T, m *monitoring.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
