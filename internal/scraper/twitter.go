package scraper

import (
	"cmp"
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/resilience"
)

const (
	defaultTwitterBaseURL = "https://api.twitter.com"
	twitterSearchPath     = "/2/tweets/search/recent"
	twitterMinResults     = 10
)

// Twitter collects recent tweets matching search queries.
type Twitter struct {
	fetch    fetcher.Fetcher
	baseURL  string
	defaults TwitterConfig
	now      func() time.Time
}

// NewTwitter creates the Twitter/X plugin.
func NewTwitter(f fetcher.Fetcher, baseURL string, defaults *TwitterConfig) *Twitter {
	if baseURL == "" {
		baseURL = defaultTwitterBaseURL
	}
	t := &Twitter{
		fetch:   f,
		baseURL: strings.TrimRight(baseURL, "/"),
		defaults: TwitterConfig{
			SearchQueries: []string{
				"I wish there was an app",
				"looking for a tool that",
				"does anyone know how to",
			},
			MaxResultsPerQuery: 10,
			TimeWindow:         "24h",
			ExcludeRetweets:    true,
		},
		now: time.Now,
	}
	if defaults != nil {
		t.defaults = *defaults.Clone().(*TwitterConfig)
	}
	return t
}

func (t *Twitter) Type() string { return TypeTwitter }

func (t *Twitter) Describe() Description {
	return Description{DisplayName: "Twitter/X", Icon: "twitter"}
}

func (t *Twitter) DefaultConfig() Config { return t.defaults.Clone() }

type tweetSearch struct {
	Data []tweet `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type tweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	PublicMetrics  struct {
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
		LikeCount    int `json:"like_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
}

// Engagement weights replies highest since they indicate discussion.
func tweetEngagement(retweets, likes, replies int) int {
	return retweets*2 + likes + replies*3
}

// Run searches each query in order. A 429 ends the run early: the limited
// query and every query after it are recorded as failed.
func (t *Twitter) Run(ctx context.Context, c Config) (*Outcome, error) {
	cfg, ok := c.(*TwitterConfig)
	if !ok {
		return nil, eris.Errorf("twitter: unexpected config type %T", c)
	}
	if cfg.BearerToken == "" {
		return nil, model.NewValidationError("bearer_token", "bearer token is required")
	}

	startTime := t.now().UTC().Add(-cfg.Window()).Format(time.RFC3339)
	out := &Outcome{}

	for i, q := range cfg.SearchQueries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "twitter: run cancelled")
		}
		tweets, err := t.search(ctx, cfg, q, startTime)
		if err != nil {
			if resilience.IsRateLimited(err) {
				zap.L().Warn("twitter: rate limit reached, skipping remaining queries",
					zap.Int("remaining", len(cfg.SearchQueries)-i),
				)
				for _, rest := range cfg.SearchQueries[i:] {
					out.FailedTargets = append(out.FailedTargets, TargetFailure{Target: rest, Error: "rate limited"})
				}
				break
			}
			zap.L().Warn("twitter: query failed", zap.String("query", q), zap.Error(err))
			out.FailedTargets = append(out.FailedTargets, TargetFailure{Target: q, Error: err.Error()})
			continue
		}
		out.Items = append(out.Items, tweets...)
	}

	slices.SortStableFunc(out.Items, func(a, b model.Item) int {
		return cmp.Compare(b.Engagement, a.Engagement)
	})

	zap.L().Info("twitter: collected tweets",
		zap.Int("tweets", len(out.Items)),
		zap.Int("queries", len(cfg.SearchQueries)),
		zap.Int("failed", len(out.FailedTargets)),
	)

	if len(out.Items) == 0 && len(out.FailedTargets) == len(cfg.SearchQueries) {
		return out, eris.Errorf("twitter: all %d queries failed", len(cfg.SearchQueries))
	}
	return out, nil
}

func (t *Twitter) search(ctx context.Context, cfg *TwitterConfig, query, startTime string) ([]model.Item, error) {
	full := query
	if cfg.ExcludeRetweets {
		full += " -is:retweet"
	}
	full += " lang:en"

	params := url.Values{
		"query":        {full},
		"start_time":   {startTime},
		"max_results":  {strconv.Itoa(max(cfg.MaxResultsPerQuery, twitterMinResults))},
		"tweet.fields": {"created_at,author_id,public_metrics,conversation_id"},
	}
	u := t.baseURL + twitterSearchPath + "?" + params.Encode()

	var resp tweetSearch
	err := t.fetch.GetJSON(ctx, u, &resp,
		fetcher.WithBearer(cfg.BearerToken),
		fetcher.NoRetryOnRateLimit(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "twitter: search %q", query)
	}

	// The API floor is 10 results; trim back to the configured size.
	data := resp.Data
	if len(data) > cfg.MaxResultsPerQuery {
		data = data[:cfg.MaxResultsPerQuery]
	}

	items := make([]model.Item, 0, len(data))
	for _, tw := range data {
		m := tw.PublicMetrics
		items = append(items, model.Item{
			ID:         tw.ID,
			Source:     TypeTwitter,
			Kind:       "tweet",
			Text:       tw.Text,
			Author:     tw.AuthorID,
			URL:        "https://x.com/i/web/status/" + tw.ID,
			Score:      m.LikeCount,
			Comments:   m.ReplyCount,
			Engagement: tweetEngagement(m.RetweetCount, m.LikeCount, m.ReplyCount),
			CreatedAt:  tw.CreatedAt,
			Extra: map[string]any{
				"search_query":    query,
				"conversation_id": tw.ConversationID,
				"retweet_count":   m.RetweetCount,
				"quote_count":     m.QuoteCount,
			},
		})
	}
	return items, nil
}
