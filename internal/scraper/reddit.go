package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
	"github.com/sells-group/scraper-orchestrator/internal/model"
)

const defaultRedditBaseURL = "https://www.reddit.com"

// RedditUserAgent identifies the collector to Reddit's public JSON API.
const RedditUserAgent = "DataSky/1.0 (Web Scraper for Data Analysis)"

// Reddit collects posts from subreddit listings.
type Reddit struct {
	fetch    fetcher.Fetcher
	baseURL  string
	defaults RedditConfig
}

// NewReddit creates the Reddit plugin. Spacing between requests is the
// fetcher's per-host rate.
func NewReddit(f fetcher.Fetcher, baseURL string, defaults *RedditConfig) *Reddit {
	if baseURL == "" {
		baseURL = defaultRedditBaseURL
	}
	r := &Reddit{
		fetch:   f,
		baseURL: strings.TrimRight(baseURL, "/"),
		defaults: RedditConfig{
			Subreddits:        []string{"python", "programming", "technology"},
			PostsPerSubreddit: 25,
			SortBy:            "hot",
		},
	}
	if defaults != nil {
		r.defaults = *defaults.Clone().(*RedditConfig)
	}
	return r
}

func (r *Reddit) Type() string { return TypeReddit }

func (r *Reddit) Describe() Description {
	return Description{DisplayName: "Reddit", Icon: "reddit"}
}

func (r *Reddit) DefaultConfig() Config { return r.defaults.Clone() }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	IsVideo     bool    `json:"is_video"`
}

// Run fetches every configured subreddit. A failing subreddit is recorded
// and skipped.
func (r *Reddit) Run(ctx context.Context, c Config) (*Outcome, error) {
	cfg, ok := c.(*RedditConfig)
	if !ok {
		return nil, eris.Errorf("reddit: unexpected config type %T", c)
	}

	out := &Outcome{}
	for _, sub := range cfg.Subreddits {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "reddit: run cancelled")
		}
		posts, err := r.subreddit(ctx, sub, cfg)
		if err != nil {
			zap.L().Warn("reddit: subreddit failed",
				zap.String("subreddit", sub),
				zap.Error(err),
			)
			out.FailedTargets = append(out.FailedTargets, TargetFailure{Target: "r/" + sub, Error: err.Error()})
			continue
		}
		out.Items = append(out.Items, posts...)
	}

	zap.L().Info("reddit: collected posts",
		zap.Int("posts", len(out.Items)),
		zap.Int("subreddits", len(cfg.Subreddits)),
		zap.Int("failed", len(out.FailedTargets)),
	)

	if len(out.Items) == 0 && len(out.FailedTargets) == len(cfg.Subreddits) {
		return out, eris.Errorf("reddit: all %d subreddits failed", len(cfg.Subreddits))
	}
	return out, nil
}

func (r *Reddit) subreddit(ctx context.Context, sub string, cfg *RedditConfig) ([]model.Item, error) {
	u := fmt.Sprintf("%s/r/%s/%s.json?%s", r.baseURL, url.PathEscape(sub), cfg.SortBy,
		url.Values{"limit": {fmt.Sprint(cfg.PostsPerSubreddit)}}.Encode())

	var listing redditListing
	if err := r.fetch.GetJSON(ctx, u, &listing, fetcher.WithHeader("User-Agent", RedditUserAgent)); err != nil {
		return nil, eris.Wrapf(err, "reddit: fetch r/%s", sub)
	}

	now := time.Now().UTC()
	items := make([]model.Item, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		if p.ID == "" || p.Title == "" {
			continue
		}
		subName := p.Subreddit
		if subName == "" {
			subName = sub
		}
		items = append(items, model.Item{
			ID:         p.ID,
			Source:     TypeReddit,
			Kind:       "post",
			Title:      p.Title,
			Text:       p.Selftext,
			Author:     p.Author,
			URL:        p.URL,
			Score:      p.Score,
			Comments:   p.NumComments,
			Engagement: p.Score + p.NumComments,
			CreatedAt:  unixSeconds(p.CreatedUTC),
			Extra: map[string]any{
				"subreddit":    subName,
				"upvote_ratio": p.UpvoteRatio,
				"permalink":    "https://reddit.com" + p.Permalink,
				"is_video":     p.IsVideo,
				"scraped_at":   now,
			},
		})
	}
	return items, nil
}

func unixSeconds(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}
