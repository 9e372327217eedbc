package main

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/analysis"
	"github.com/sells-group/scraper-orchestrator/internal/config"
	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
	"github.com/sells-group/scraper-orchestrator/internal/monitoring"
	"github.com/sells-group/scraper-orchestrator/internal/orchestrator"
	"github.com/sells-group/scraper-orchestrator/internal/scheduler"
	"github.com/sells-group/scraper-orchestrator/internal/scraper"
	"github.com/sells-group/scraper-orchestrator/internal/store"
	anthropicpkg "github.com/sells-group/scraper-orchestrator/pkg/anthropic"
)

// appEnv holds everything the serve/run/analyze commands need.
type appEnv struct {
	Store        store.Store
	Payloads     *store.Payloads
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Analysis     *analysis.Service
	Metrics      *monitoring.Metrics
	Checker      *monitoring.Checker
}

// Close stops the scheduler and releases the store.
func (e *appEnv) Close() {
	if e.Scheduler != nil {
		e.Scheduler.Stop()
		e.Scheduler.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp builds the store, scraper registry, orchestrator, scheduler and
// analysis service from cfg and restores persisted state. Callers should
// defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Metrics: monitoring.NewMetrics()}

	env.Payloads, err = store.NewPayloads(cfg.Store.DataDir)
	if err != nil {
		env.Close()
		return nil, err
	}

	reg, err := buildRegistry(cfg, newFetcher(cfg))
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Orchestrator = orchestrator.New(reg, store.NewRecorder(st, env.Payloads), orchestrator.Options{
		MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
		ScraperTimeout: cfg.Orchestrator.ScraperTimeout(),
		PageSize:       cfg.Orchestrator.PageSize,
		Port:           cfg.Server.Port,
		Host:           cfg.Server.Host,
		Debug:          cfg.Server.Debug,
		DataDir:        env.Payloads.Dir(),
		Metrics:        env.Metrics,
	})

	env.Scheduler, err = scheduler.New(cfg.Scheduler.DailyAt, env.Orchestrator.RunAll, scheduler.WithMetrics(env.Metrics))
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init scheduler")
	}
	env.Orchestrator.SetScheduler(env.Scheduler)

	if err := env.Orchestrator.Restore(ctx); err != nil {
		env.Close()
		return nil, err
	}

	env.Analysis, err = buildAnalysis(cfg, st, env.Payloads, env.Metrics)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Checker = monitoring.NewChecker(
		monitoring.NewCollector(st),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
		env.Orchestrator.IsRunning,
	)

	zap.L().Info("app initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("scrapers", reg.Len()),
		zap.String("analysis_backend", cfg.Analysis.Backend),
	)
	return env, nil
}

// newFetcher creates the shared outbound client with per-host spacing for
// the rate-limited APIs.
func newFetcher(c *config.Config) fetcher.Fetcher {
	rates := map[string]float64{}
	if h := hostOf(c.Reddit.BaseURL); h != "" && c.Reddit.RequestsPerSecond > 0 {
		rates[h] = c.Reddit.RequestsPerSecond
	}
	if h := hostOf(c.Twitter.BaseURL); h != "" && c.Twitter.RequestsPerSecond > 0 {
		rates[h] = c.Twitter.RequestsPerSecond
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.Reddit.UserAgent,
		Timeout:    time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: c.Fetch.MaxRetries,
		HostRates:  rates,
	})
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// buildRegistry registers scrapers from the seed file when one is
// configured, otherwise the built-in plugins named in scrapers.enabled.
func buildRegistry(c *config.Config, f fetcher.Fetcher) (*scraper.Registry, error) {
	plugins := map[string]scraper.Plugin{
		scraper.TypeReddit: scraper.NewReddit(f, c.Reddit.BaseURL, &scraper.RedditConfig{
			Subreddits:        c.Reddit.Subreddits,
			PostsPerSubreddit: c.Reddit.PostsPerSubreddit,
			SortBy:            c.Reddit.SortBy,
		}),
		scraper.TypeTwitter: scraper.NewTwitter(f, c.Twitter.BaseURL, &scraper.TwitterConfig{
			SearchQueries:      c.Twitter.SearchQueries,
			MaxResultsPerQuery: c.Twitter.MaxResultsPerQuery,
			TimeWindow:         c.Twitter.TimeWindow,
			BearerToken:        c.Twitter.BearerToken,
			ExcludeRetweets:    c.Twitter.ExcludeRetweets,
		}),
		scraper.TypeWeb: scraper.NewWeb(f, &scraper.WebConfig{
			URLs:     c.Web.URLs,
			MaxChars: c.Web.MaxChars,
		}),
	}

	reg := scraper.NewRegistry()
	if c.Scrapers.SeedFile != "" {
		entries, err := scraper.LoadSeed(c.Scrapers.SeedFile)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			r, err := e.Registration(plugins)
			if err != nil {
				return nil, err
			}
			if _, err := reg.Register(r); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}

	for _, name := range c.Scrapers.Enabled {
		p, ok := plugins[name]
		if !ok {
			return nil, eris.Errorf("unknown built-in scraper: %s", name)
		}
		if _, err := reg.Register(scraper.Registration{Name: name, Plugin: p, Enabled: true}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildAnalysis wires the embedder, the configured insight backend and the
// model lister into the cached analysis service.
func buildAnalysis(c *config.Config, st store.Store, payloads *store.Payloads, metrics *monitoring.Metrics) (*analysis.Service, error) {
	ac := c.Analysis
	emb, err := analysis.NewOllamaEmbedder(ac.OllamaURL, ac.EmbeddingModel, ac.EmbedBatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "init embedder")
	}

	var gen analysis.Generator
	switch ac.Backend {
	case "ollama":
		gen, err = analysis.NewOllamaGenerator(ac.OllamaURL, ac.DefaultModel)
		if err != nil {
			return nil, eris.Wrap(err, "init ollama generator")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			return nil, eris.New("anthropic backend requires SCRAPER_ANTHROPIC_KEY")
		}
		gen = analysis.NewAnthropicGenerator(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model, c.Anthropic.MaxTokens)
	case analysis.BackendHeuristic:
		zap.L().Info("analysis uses heuristic insights only")
	default:
		return nil, eris.Errorf("unsupported analysis backend: %s", ac.Backend)
	}

	engine := analysis.NewEngine(payloads, emb, gen, analysis.Options{
		Eps:               ac.Eps,
		MinSamples:        ac.MinSamples,
		MinClusterSize:    ac.MinClusterSize,
		MaxClustersForLLM: ac.MaxClustersForLLM,
		Temperature:       ac.Temperature,
		Timeout:           ac.Timeout(),
	})
	lister := analysis.NewModelLister(
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 10 * time.Second, MaxRetries: 1}),
		ac.OllamaURL,
	)
	return analysis.NewService(engine, st, payloads, lister, metrics), nil
}
