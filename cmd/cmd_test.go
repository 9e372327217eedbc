//go:build !integration

package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraper-orchestrator/internal/config"
	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "run", "runs", "scrapers", "analyze", "models"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "scrapectl", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunCommand_AllFlag(t *testing.T) {
	flag := runCmd.Flags().Lookup("all")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)

	runAll = true
	defer func() { runAll = false }()
	err := runCmd.RunE(runCmd, []string{"reddit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 5001))
	assert.Equal(t, 5001, resolvePort(0, 5001))
}

func TestListenAndServe_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- listenAndServe(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), h)
	}()

	var ready bool
	for range 50 {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err == nil {
			_ = resp.Body.Close()
			ready = resp.StatusCode == http.StatusNoContent
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "test.db"), DataDir: filepath.Join(dir, "data")},
		Server:    config.ServerConfig{Port: 5001, Host: "127.0.0.1"},
		Scheduler: config.SchedulerConfig{DailyAt: "12:00"},
		Scrapers:  config.ScrapersConfig{Enabled: []string{"reddit", "twitter"}},
		Reddit: config.RedditConfig{
			BaseURL:           "https://www.reddit.com",
			Subreddits:        []string{"golang"},
			PostsPerSubreddit: 10,
			SortBy:            "new",
			RequestsPerSecond: 1,
		},
		Twitter: config.TwitterConfig{
			BaseURL:            "https://api.twitter.com",
			SearchQueries:      []string{"need a tool"},
			MaxResultsPerQuery: 10,
			TimeWindow:         "24h",
		},
		Web:      config.WebConfig{MaxChars: 4000},
		Analysis: config.AnalysisConfig{Backend: "ollama", OllamaURL: "http://127.0.0.1:1", EmbeddingModel: "nomic-embed-text", DefaultModel: "qwen2.5:14b"},
		Fetch:    config.FetchConfig{TimeoutSecs: 5, MaxRetries: 1},
	}
}

func TestBuildRegistry_BuiltIns(t *testing.T) {
	c := testConfig(t)
	reg, err := buildRegistry(c, newFetcher(c))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	d, err := reg.Get("reddit")
	require.NoError(t, err)
	assert.True(t, d.Enabled())
	sum := d.Summary()
	require.NotNil(t, sum.SubredditsCount)
	assert.Equal(t, 1, *sum.SubredditsCount)
	assert.Equal(t, "new", sum.SortBy)

	c.Scrapers.Enabled = []string{"myspace"}
	_, err = buildRegistry(c, newFetcher(c))
	assert.Error(t, err)
}

func TestBuildRegistry_SeedFile(t *testing.T) {
	c := testConfig(t)
	seed := filepath.Join(t.TempDir(), "scrapers.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
scrapers:
  - name: hn_pages
    type: web
    display_name: HN Pages
    enabled: false
    config:
      urls: [https://news.ycombinator.com]
  - name: reddit
`), 0o644))
	c.Scrapers.SeedFile = seed

	reg, err := buildRegistry(c, newFetcher(c))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	d, err := reg.Get("hn_pages")
	require.NoError(t, err)
	assert.False(t, d.Enabled())
	assert.Equal(t, "HN Pages", d.Summary().DisplayName)
}

func TestBuildAnalysis_Backends(t *testing.T) {
	c := testConfig(t)
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	payloads, err := store.NewPayloads(t.TempDir())
	require.NoError(t, err)
	metrics := monitoring.NewMetrics()

	svc, err := buildAnalysis(c, st, payloads, metrics)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:14b", svc.DefaultModel())

	c.Analysis.Backend = "heuristic"
	svc, err = buildAnalysis(c, st, payloads, metrics)
	require.NoError(t, err)
	assert.Empty(t, svc.DefaultModel())

	c.Analysis.Backend = "anthropic"
	_, err = buildAnalysis(c, st, payloads, metrics)
	assert.ErrorContains(t, err, "SCRAPER_ANTHROPIC_KEY")

	c.Analysis.Backend = "gpt"
	_, err = buildAnalysis(c, st, payloads, metrics)
	assert.Error(t, err)
}

func TestInitApp_RunAndRestore(t *testing.T) {
	cfg = testConfig(t)
	cfg.Scrapers.Enabled = nil
	ctx := context.Background()

	env, err := initApp(ctx)
	require.NoError(t, err)

	run, err := env.Orchestrator.RunAll(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "No scrapers configured yet", run.Message)

	require.NoError(t, env.Orchestrator.UpdatePort(ctx, 8081))
	_, err = env.Orchestrator.StartScheduler(ctx)
	require.NoError(t, err)
	env.Close()

	env, err = initApp(ctx)
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, 8081, env.Orchestrator.Settings().Port)
	assert.True(t, env.Orchestrator.IsRunning())

	n, err := env.Store.CountRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfigJSON(t *testing.T) {
	raw, err := configJSON(`{"posts_per_subreddit": 50}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"posts_per_subreddit": 50}`, string(raw))

	raw, err = configJSON("urls: [https://example.com]\nmax_chars: 500")
	require.NoError(t, err)
	assert.JSONEq(t, `{"urls":["https://example.com"],"max_chars":500}`, string(raw))

	_, err = configJSON("just words")
	assert.Error(t, err)
}

func TestComputeRunStats(t *testing.T) {
	runs := []model.RunResult{
		{Status: model.RunStatusSuccess, DataCount: 10, DurationMs: 1000, Trigger: model.TriggerScheduled},
		{Status: model.RunStatusPartialSuccess, DataCount: 4, DurationMs: 3000, Trigger: model.TriggerManual},
		{Status: model.RunStatusError, DurationMs: 2000, Trigger: model.TriggerManual},
	}
	s := computeRunStats(runs)
	assert.Equal(t, runStats{Total: 3, Success: 1, Partial: 1, Failed: 1, Scheduled: 1, Items: 14, AvgDurMs: 2000}, s)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Total runs:")
	assert.Contains(t, buf.String(), "Avg duration:")
	assert.Contains(t, buf.String(), "2.0s")

	assert.Equal(t, runStats{}, computeRunStats(nil))
}

func TestFormatRunsList(t *testing.T) {
	runs := []model.RunResult{{
		ID:        "abc12345-6789-0000-0000-000000000000",
		Scraper:   "reddit",
		Status:    model.RunStatusSuccess,
		DataCount: 25,
		Trigger:   model.TriggerScheduled,
		Timestamp: time.Now().Add(-2 * time.Hour),
		Filename:  "reddit_20260301_120000.json",
	}}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()
	assert.Contains(t, out, "SCRAPER")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-")
	assert.Contains(t, out, "reddit_20260301_120000.json")
	assert.Contains(t, out, "2 hours ago")
}

func TestFormatRunResult_Batch(t *testing.T) {
	run := &model.RunResult{
		Scraper:   model.BatchScraperName,
		Status:    model.RunStatusPartialSuccess,
		DataCount: 1200,
		Results: []model.ScraperResult{
			{Scraper: "reddit", Status: model.RunStatusSuccess, DataCount: 1200},
			{Scraper: "twitter", Status: model.RunStatusError, Error: "Twitter API bearer token not configured"},
		},
	}
	var buf bytes.Buffer
	formatRunResult(&buf, run)
	out := buf.String()
	assert.Contains(t, out, "1,200 items")
	assert.Contains(t, out, "twitter")
	assert.Contains(t, out, "bearer token")
}

func TestFormatInsights(t *testing.T) {
	rec := &model.AnalysisRecord{
		SourceFilename: "reddit_20260301_120000.json",
		Model:          "qwen2.5:14b",
		Backend:        "ollama",
		Insights: model.Insights{
			Opportunities: []model.Opportunity{{Title: "Python Packaging", Confidence: 0.42}},
			Trends:        []model.Trend{{Topic: "Rust", Momentum: model.MomentumRising, Mentions: 3}},
			PainPoints:    []string{"slow builds"},
			Sentiment:     model.Sentiment{Positive: 20, Neutral: 50, Negative: 30},
		},
	}
	var buf bytes.Buffer
	formatInsights(&buf, rec, true)
	out := buf.String()
	assert.Contains(t, out, "(cached)")
	assert.Contains(t, out, "Python Packaging (42%)")
	assert.Contains(t, out, "Rust: rising, 3 mentions")
	assert.Contains(t, out, "slow builds")
	assert.Contains(t, out, "50% neutral")
}

func TestWriteFormatted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFormatted(&buf, "yaml", map[string]int{"max_chars": 4000}))
	assert.Equal(t, "max_chars: 4000\n", buf.String())

	buf.Reset()
	require.NoError(t, writeFormatted(&buf, "json", map[string]int{"max_chars": 4000}))
	assert.JSONEq(t, `{"max_chars":4000}`, buf.String())
}
