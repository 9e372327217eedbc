package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Config is a tagged variant of per-source configuration. Each variant
// validates its own shape.
type Config interface {
	Type() string
	// Validate returns a *model.ValidationError describing the first
	// invalid field.
	Validate() error
	// Normalize trims and de-duplicates collection fields in place.
	Normalize()
	// Clone returns a deep copy so stored configs are never shared.
	Clone() Config
}

const (
	TypeReddit  = "reddit"
	TypeTwitter = "twitter"
	TypeWeb     = "web"
)

// RedditConfig configures the Reddit plugin.
type RedditConfig struct {
	Subreddits        []string `json:"subreddits" yaml:"subreddits"`
	PostsPerSubreddit int      `json:"posts_per_subreddit" yaml:"posts_per_subreddit"`
	SortBy            string   `json:"sort_by" yaml:"sort_by"`
}

var (
	subredditRe    = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)
	redditSorts    = []string{"hot", "new", "top", "rising"}
	twitterWindows = map[string]time.Duration{
		"1h":  time.Hour,
		"24h": 24 * time.Hour,
		"3d":  72 * time.Hour,
		"7d":  168 * time.Hour,
	}
)

func (c *RedditConfig) Type() string { return TypeReddit }

func (c *RedditConfig) Normalize() {
	seen := make(map[string]bool, len(c.Subreddits))
	out := c.Subreddits[:0]
	for _, s := range c.Subreddits {
		s = strings.TrimPrefix(strings.TrimSpace(s), "r/")
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	c.Subreddits = out
	c.SortBy = strings.ToLower(strings.TrimSpace(c.SortBy))
}

func (c *RedditConfig) Validate() error {
	if len(c.Subreddits) == 0 {
		return model.NewValidationError("subreddits", "at least one subreddit is required")
	}
	for _, s := range c.Subreddits {
		if !subredditRe.MatchString(s) {
			return model.NewValidationError("subreddits", "invalid subreddit name %q", s)
		}
	}
	if c.PostsPerSubreddit < 10 || c.PostsPerSubreddit > 100 {
		return model.NewValidationError("posts_per_subreddit", "must be between 10 and 100")
	}
	if !slices.Contains(redditSorts, c.SortBy) {
		return model.NewValidationError("sort_by", "must be one of %s", strings.Join(redditSorts, ", "))
	}
	return nil
}

func (c *RedditConfig) Clone() Config {
	cp := *c
	cp.Subreddits = slices.Clone(c.Subreddits)
	return &cp
}

// TwitterConfig configures the Twitter/X plugin.
type TwitterConfig struct {
	SearchQueries      []string `json:"search_queries" yaml:"search_queries"`
	MaxResultsPerQuery int      `json:"max_results_per_query" yaml:"max_results_per_query"`
	TimeWindow         string   `json:"time_window" yaml:"time_window"`
	BearerToken        string   `json:"bearer_token" yaml:"bearer_token"`
	ExcludeRetweets    bool     `json:"exclude_retweets" yaml:"exclude_retweets"`
}

func (c *TwitterConfig) Type() string { return TypeTwitter }

func (c *TwitterConfig) Normalize() {
	seen := make(map[string]bool, len(c.SearchQueries))
	out := c.SearchQueries[:0]
	for _, q := range c.SearchQueries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	c.SearchQueries = out
	c.TimeWindow = strings.TrimSpace(c.TimeWindow)
	c.BearerToken = strings.TrimSpace(c.BearerToken)
}

func (c *TwitterConfig) Validate() error {
	if len(c.SearchQueries) == 0 {
		return model.NewValidationError("search_queries", "at least one search query is required")
	}
	for _, q := range c.SearchQueries {
		if len(q) > 400 {
			return model.NewValidationError("search_queries", "query exceeds 400 characters")
		}
	}
	if c.MaxResultsPerQuery < 5 || c.MaxResultsPerQuery > 50 {
		return model.NewValidationError("max_results_per_query", "must be between 5 and 50")
	}
	if _, ok := twitterWindows[c.TimeWindow]; !ok {
		return model.NewValidationError("time_window", "must be one of 1h, 24h, 3d, 7d")
	}
	if c.BearerToken == "" {
		return model.NewValidationError("bearer_token", "bearer token is required")
	}
	return nil
}

// Window returns the search window duration.
func (c *TwitterConfig) Window() time.Duration {
	return twitterWindows[c.TimeWindow]
}

func (c *TwitterConfig) Clone() Config {
	cp := *c
	cp.SearchQueries = slices.Clone(c.SearchQueries)
	return &cp
}

// WebConfig configures the generic page collector.
type WebConfig struct {
	URLs     []string `json:"urls" yaml:"urls"`
	MaxChars int      `json:"max_chars" yaml:"max_chars"`
}

func (c *WebConfig) Type() string { return TypeWeb }

func (c *WebConfig) Normalize() {
	seen := make(map[string]bool, len(c.URLs))
	out := c.URLs[:0]
	for _, u := range c.URLs {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	c.URLs = out
}

func (c *WebConfig) Validate() error {
	if len(c.URLs) == 0 {
		return model.NewValidationError("urls", "at least one url is required")
	}
	if len(c.URLs) > 50 {
		return model.NewValidationError("urls", "at most 50 urls are allowed")
	}
	for _, raw := range c.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return model.NewValidationError("urls", "invalid url %q", raw)
		}
	}
	if c.MaxChars < 200 || c.MaxChars > 20000 {
		return model.NewValidationError("max_chars", "must be between 200 and 20000")
	}
	return nil
}

func (c *WebConfig) Clone() Config {
	cp := *c
	cp.URLs = slices.Clone(c.URLs)
	return &cp
}

// NewConfig returns an empty config of the given type.
func NewConfig(typ string) (Config, error) {
	switch typ {
	case TypeReddit:
		return &RedditConfig{}, nil
	case TypeTwitter:
		return &TwitterConfig{}, nil
	case TypeWeb:
		return &WebConfig{}, nil
	default:
		return nil, eris.Errorf("scraper: unknown config type %q", typ)
	}
}

// DecodeConfig strictly decodes raw JSON into the variant for typ. Unknown
// fields and type mismatches are validation errors.
func DecodeConfig(typ string, raw []byte) (Config, error) {
	cfg, err := NewConfig(typ)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, model.NewValidationError(typeErr.Field, "expected %s", typeErr.Type)
		}
		return nil, model.NewValidationError("", "invalid config: %v", err)
	}
	return cfg, nil
}

// MergeConfig decodes a partial JSON update on top of a copy of current.
func MergeConfig(current Config, raw []byte) (Config, error) {
	next := current.Clone()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(next); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, model.NewValidationError(typeErr.Field, "expected %s", typeErr.Type)
		}
		return nil, model.NewValidationError("", "invalid config: %v", err)
	}
	// A masked secret echoed back by a client keeps the stored value.
	if tw, ok := next.(*TwitterConfig); ok {
		if old, ok := current.(*TwitterConfig); ok && tw.BearerToken == MaskSecret(old.BearerToken) {
			tw.BearerToken = old.BearerToken
		}
	}
	return next, nil
}

// Masked returns a copy of cfg safe to serialize to clients.
func Masked(cfg Config) Config {
	cp := cfg.Clone()
	if tw, ok := cp.(*TwitterConfig); ok {
		tw.BearerToken = MaskSecret(tw.BearerToken)
	}
	return cp
}

// MaskSecret hides all but the last four characters.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
