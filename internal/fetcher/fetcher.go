// Package fetcher performs rate-limited, retrying HTTP GETs against scrape
// targets.
package fetcher

import (
	"context"
	"net/http"
)

// Fetcher defines the HTTP operations scrapers depend on.
type Fetcher interface {
	// Get fetches rawURL and returns the full response body. Non-2xx
	// responses return a *resilience.StatusError.
	Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error)

	// GetJSON fetches rawURL and decodes the body into out.
	GetJSON(ctx context.Context, rawURL string, out any, opts ...RequestOption) error
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type requestOptions struct {
	header           http.Header
	retryRateLimited bool
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// WithBearer sets an Authorization bearer token.
func WithBearer(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// NoRetryOnRateLimit returns 429 responses to the caller immediately
// instead of backing off and retrying.
func NoRetryOnRateLimit() RequestOption {
	return func(o *requestOptions) { o.retryRateLimited = false }
}
