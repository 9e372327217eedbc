package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Validate checks the config for the given command mode ("serve", "run",
// "analyze"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Store.DataDir == "" {
		errs = append(errs, "store.data_dir is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if _, err := time.Parse("15:04", c.Scheduler.DailyAt); err != nil {
			errs = append(errs, "scheduler.daily_at must be HH:MM")
		}
		errs = append(errs, c.validateOrchestrator()...)
		errs = append(errs, c.validateAnalysis()...)
	case "run":
		errs = append(errs, c.validateOrchestrator()...)
	case "analyze":
		errs = append(errs, c.validateAnalysis()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateOrchestrator() []string {
	var errs []string
	if c.Orchestrator.MaxConcurrency < 1 || c.Orchestrator.MaxConcurrency > 64 {
		errs = append(errs, "orchestrator.max_concurrency must be between 1 and 64")
	}
	if c.Orchestrator.ScraperTimeoutSecs <= 0 {
		errs = append(errs, "orchestrator.scraper_timeout_secs must be > 0")
	}
	if c.Orchestrator.PageSize <= 0 {
		errs = append(errs, "orchestrator.page_size must be > 0")
	}
	return errs
}

func (c *Config) validateAnalysis() []string {
	var errs []string
	switch c.Analysis.Backend {
	case "ollama":
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when analysis.backend is anthropic")
		}
	default:
		errs = append(errs, "analysis.backend must be ollama or anthropic")
	}
	if c.Analysis.Eps <= 0 || c.Analysis.Eps >= 2 {
		errs = append(errs, "analysis.eps must be in (0, 2)")
	}
	if c.Analysis.MinSamples < 1 {
		errs = append(errs, "analysis.min_samples must be >= 1")
	}
	if c.Analysis.TimeoutSecs <= 0 {
		errs = append(errs, "analysis.timeout_secs must be > 0")
	}
	return errs
}
