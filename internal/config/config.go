package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Scrapers     ScrapersConfig     `yaml:"scrapers" mapstructure:"scrapers"`
	Reddit       RedditConfig       `yaml:"reddit" mapstructure:"reddit"`
	Twitter      TwitterConfig      `yaml:"twitter" mapstructure:"twitter"`
	Web          WebConfig          `yaml:"web" mapstructure:"web"`
	Analysis     AnalysisConfig     `yaml:"analysis" mapstructure:"analysis"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch        FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	Host           string   `yaml:"host" mapstructure:"host"`
	Debug          bool     `yaml:"debug" mapstructure:"debug"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SchedulerConfig configures the daily trigger.
type SchedulerConfig struct {
	DailyAt   string `yaml:"daily_at" mapstructure:"daily_at"`
	AutoStart bool   `yaml:"auto_start" mapstructure:"auto_start"`
}

// OrchestratorConfig bounds scraper execution.
type OrchestratorConfig struct {
	MaxConcurrency     int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	ScraperTimeoutSecs int `yaml:"scraper_timeout_secs" mapstructure:"scraper_timeout_secs"`
	PageSize           int `yaml:"page_size" mapstructure:"page_size"`
}

// ScraperTimeout returns the per-scraper run bound.
func (c OrchestratorConfig) ScraperTimeout() time.Duration {
	return time.Duration(c.ScraperTimeoutSecs) * time.Second
}

// ScrapersConfig controls which built-in scrapers are registered.
type ScrapersConfig struct {
	Enabled  []string `yaml:"enabled" mapstructure:"enabled"`
	SeedFile string   `yaml:"seed_file" mapstructure:"seed_file"`
}

// RedditConfig holds defaults for the Reddit scraper.
type RedditConfig struct {
	BaseURL           string   `yaml:"base_url" mapstructure:"base_url"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
	Subreddits        []string `yaml:"subreddits" mapstructure:"subreddits"`
	PostsPerSubreddit int      `yaml:"posts_per_subreddit" mapstructure:"posts_per_subreddit"`
	SortBy            string   `yaml:"sort_by" mapstructure:"sort_by"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// TwitterConfig holds defaults for the Twitter/X scraper.
type TwitterConfig struct {
	BaseURL            string   `yaml:"base_url" mapstructure:"base_url"`
	BearerToken        string   `yaml:"bearer_token" mapstructure:"bearer_token"`
	SearchQueries      []string `yaml:"search_queries" mapstructure:"search_queries"`
	MaxResultsPerQuery int      `yaml:"max_results_per_query" mapstructure:"max_results_per_query"`
	TimeWindow         string   `yaml:"time_window" mapstructure:"time_window"`
	ExcludeRetweets    bool     `yaml:"exclude_retweets" mapstructure:"exclude_retweets"`
	RequestsPerSecond  float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// WebConfig holds defaults for the generic web page scraper.
type WebConfig struct {
	URLs     []string `yaml:"urls" mapstructure:"urls"`
	MaxChars int      `yaml:"max_chars" mapstructure:"max_chars"`
}

// AnalysisConfig configures the embed/cluster/insight pipeline.
type AnalysisConfig struct {
	Backend           string  `yaml:"backend" mapstructure:"backend"`
	OllamaURL         string  `yaml:"ollama_url" mapstructure:"ollama_url"`
	EmbeddingModel    string  `yaml:"embedding_model" mapstructure:"embedding_model"`
	DefaultModel      string  `yaml:"default_model" mapstructure:"default_model"`
	Eps               float64 `yaml:"eps" mapstructure:"eps"`
	MinSamples        int     `yaml:"min_samples" mapstructure:"min_samples"`
	MinClusterSize    int     `yaml:"min_cluster_size" mapstructure:"min_cluster_size"`
	MaxClustersForLLM int     `yaml:"max_clusters_for_llm" mapstructure:"max_clusters_for_llm"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	EmbedBatchSize    int     `yaml:"embed_batch_size" mapstructure:"embed_batch_size"`
}

// Timeout returns the whole-pipeline bound.
func (c AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings for the alternate insight backend.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int `yaml:"max_retries" mapstructure:"max_retries"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinRunsForAlert      int     `yaml:"min_runs_for_alert" mapstructure:"min_runs_for_alert"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "scraper.db")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("scheduler.daily_at", "12:00")
	v.SetDefault("scheduler.auto_start", false)
	v.SetDefault("orchestrator.max_concurrency", 4)
	v.SetDefault("orchestrator.scraper_timeout_secs", 60)
	v.SetDefault("orchestrator.page_size", 10)
	v.SetDefault("scrapers.enabled", []string{"reddit", "twitter"})
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.user_agent", "DataSky/1.0 (Web Scraper for Data Analysis)")
	v.SetDefault("reddit.subreddits", []string{"python", "programming", "technology"})
	v.SetDefault("reddit.posts_per_subreddit", 25)
	v.SetDefault("reddit.sort_by", "hot")
	v.SetDefault("reddit.requests_per_second", 1.0)
	v.SetDefault("twitter.base_url", "https://api.twitter.com")
	v.SetDefault("twitter.search_queries", []string{
		"I wish there was an app",
		"looking for a tool that",
		"does anyone know how to",
	})
	v.SetDefault("twitter.max_results_per_query", 10)
	v.SetDefault("twitter.time_window", "24h")
	v.SetDefault("twitter.exclude_retweets", true)
	v.SetDefault("twitter.requests_per_second", 0.5)
	v.SetDefault("web.max_chars", 4000)
	v.SetDefault("analysis.backend", "ollama")
	v.SetDefault("analysis.ollama_url", "http://localhost:11434")
	v.SetDefault("analysis.embedding_model", "nomic-embed-text")
	v.SetDefault("analysis.default_model", "qwen2.5:14b")
	v.SetDefault("analysis.eps", 0.4)
	v.SetDefault("analysis.min_samples", 2)
	v.SetDefault("analysis.min_cluster_size", 2)
	v.SetDefault("analysis.max_clusters_for_llm", 8)
	v.SetDefault("analysis.temperature", 0.3)
	v.SetDefault("analysis.timeout_secs", 120)
	v.SetDefault("analysis.embed_batch_size", 32)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_runs_for_alert", 3)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)

	// The original deployment used bare SERVER_PORT / TWITTER_BEARER_TOKEN.
	_ = v.BindEnv("server.port", "SCRAPER_SERVER_PORT", "SERVER_PORT")
	_ = v.BindEnv("server.host", "SCRAPER_SERVER_HOST", "SERVER_HOST")
	_ = v.BindEnv("store.data_dir", "SCRAPER_STORE_DATA_DIR", "DATA_DIR")
	_ = v.BindEnv("twitter.bearer_token", "SCRAPER_TWITTER_BEARER_TOKEN", "TWITTER_BEARER_TOKEN")
	_ = v.BindEnv("anthropic.key", "SCRAPER_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
