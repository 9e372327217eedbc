package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraper-orchestrator/internal/fetcher"
)

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		DefaultRate:  1000,
	})
}

const redditListingJSON = `{"data":{"children":[
 {"data":{"id":"a1","subreddit":"golang","title":"Generics question","author":"gopher","score":40,"num_comments":12,"created_utc":1700000000,"url":"https://example.com/a1","permalink":"/r/golang/a1"}},
 {"data":{"id":"a2","subreddit":"golang","title":"Need a profiler","author":"dev","score":5,"num_comments":1,"created_utc":1700000100,"url":"https://example.com/a2","permalink":"/r/golang/a2"}},
 {"data":{"id":"","title":"skipped"}}
]}}`

func TestReddit_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RedditUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "/r/golang/top.json", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.Write([]byte(redditListingJSON))
	}))
	defer srv.Close()

	p := NewReddit(testFetcher(), srv.URL, nil)
	out, err := p.Run(context.Background(), &RedditConfig{Subreddits: []string{"golang"}, PostsPerSubreddit: 25, SortBy: "top"})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)

	first := out.Items[0]
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, "reddit", first.Source)
	assert.Equal(t, 52, first.Engagement)
	assert.Equal(t, "golang", first.Extra["subreddit"])
	assert.Equal(t, "https://reddit.com/r/golang/a1", first.Extra["permalink"])
	assert.Equal(t, int64(1700000000), first.CreatedAt.Unix())
	assert.Empty(t, out.FailedTargets)
}

func TestReddit_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/r/private/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(redditListingJSON))
	}))
	defer srv.Close()

	p := NewReddit(testFetcher(), srv.URL, nil)
	out, err := p.Run(context.Background(), &RedditConfig{Subreddits: []string{"golang", "private"}, PostsPerSubreddit: 10, SortBy: "hot"})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
	assert.Equal(t, []string{"r/private"}, out.FailedNames())
}

func TestReddit_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewReddit(testFetcher(), srv.URL, nil)
	out, err := p.Run(context.Background(), &RedditConfig{Subreddits: []string{"a1", "b2"}, PostsPerSubreddit: 10, SortBy: "hot"})
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.FailedTargets, 2)
}

func TestReddit_WrongConfigType(t *testing.T) {
	_, err := NewReddit(testFetcher(), "", nil).Run(context.Background(), validTwitter())
	assert.Error(t, err)
}

func TestReddit_DefaultConfig(t *testing.T) {
	cfg := NewReddit(nil, "", nil).DefaultConfig().(*RedditConfig)
	assert.Equal(t, []string{"python", "programming", "technology"}, cfg.Subreddits)
	assert.Equal(t, 25, cfg.PostsPerSubreddit)
	assert.Equal(t, "hot", cfg.SortBy)
	assert.NoError(t, cfg.Validate())
}
