package model

import "time"

// ScraperSummary is the serialized view of a scraper descriptor as the
// dashboard renders it. Type-specific stats are flattened in.
type ScraperSummary struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Icon        string     `json:"icon"`
	Type        string     `json:"type"`
	Enabled     bool       `json:"enabled"`
	LastRun     *time.Time `json:"last_run"`

	SubredditsCount   *int   `json:"subreddits_count,omitempty"`
	PostsPerSubreddit *int   `json:"posts_per_subreddit,omitempty"`
	SortBy            string `json:"sort_by,omitempty"`

	SearchQueriesCount *int   `json:"search_queries_count,omitempty"`
	MaxResultsPerQuery *int   `json:"max_results_per_query,omitempty"`
	TimeWindow         string `json:"time_window,omitempty"`
	HasToken           *bool  `json:"has_token,omitempty"`

	URLsCount *int `json:"urls_count,omitempty"`
}

// DescriptorRecord is the persisted form of a scraper descriptor.
type DescriptorRecord struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Enabled   bool      `json:"enabled"`
	Config    []byte    `json:"config"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the orchestrator snapshot served at /api/status.
type Status struct {
	IsRunning     bool             `json:"is_running"`
	ScrapersCount int              `json:"scrapers_count"`
	Scrapers      []ScraperSummary `json:"scrapers"`
	LastRun       *time.Time       `json:"last_run"`
	LastResults   []RunResult      `json:"last_results"`
}

// Settings mirrors the server settings exposed at /api/settings.
type Settings struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	Debug   bool   `json:"debug"`
	DataDir string `json:"data_dir"`
}
