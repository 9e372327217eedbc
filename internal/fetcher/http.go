package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/scraper-orchestrator/internal/resilience"
)

const maxBodyBytes = 16 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryBackoff is the initial delay between retries. Default 1s.
	RetryBackoff time.Duration
	// HostRates sets requests per second per host. Burst is 1 so the rate
	// doubles as minimum spacing between requests.
	HostRates   map[string]float64
	DefaultRate float64
	Breakers    *resilience.HostBreakers
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// AdaptiveLimiter wraps a rate.Limiter that slows down on 429 responses
// and recovers toward, but never above, its configured rate.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at r requests per second.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(r, burst),
		maxRate:     r,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%, capped at the configured rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setRate(min(a.currentRate*1.2, a.maxRate))
}

// OnRateLimit halves the rate, floored at a quarter of the configured rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setRate(max(a.currentRate*0.5, a.minRate))
	zap.L().Warn("fetcher: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

func (a *AdaptiveLimiter) setRate(r rate.Limit) {
	a.currentRate = r
	a.limiter.SetLimit(r)
}

// HTTPFetcher implements Fetcher using net/http.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	breakers *resilience.HostBreakers

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "scraper-orchestrator/1.0"
	}
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = 5
	}
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewHostBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:     opts,
		breakers: opts.Breakers,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	r, ok := f.opts.HostRates[host]
	if !ok || r <= 0 {
		r = f.opts.DefaultRate
	}
	lim := NewAdaptiveLimiter(rate.Limit(r), 1)
	f.limiters[host] = lim
	return lim
}

// Get implements Fetcher.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("fetcher: invalid url %q", rawURL)
	}

	ro := requestOptions{header: make(http.Header), retryRateLimited: true}
	for _, o := range opts {
		o(&ro)
	}

	lim := f.limiterFor(u.Host)
	cb := f.breakers.Get(u.Host)

	retry := resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: f.opts.RetryBackoff,
		JitterFraction: 0.25,
		OnRetry:        resilience.RetryLogger(u.Host, "get"),
		ShouldRetry:    func(err error) bool {
			if !ro.retryRateLimited && resilience.IsRateLimited(err) {
				return false
			}
			return resilience.IsTransient(err)
		},
	}

	var resp *Response
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		if err := lim.Wait(ctx); err != nil {
			return eris.Wrap(err, "fetcher: rate limiter wait")
		}
		return cb.Execute(ctx, func(ctx context.Context) error {
			r, err := f.do(ctx, rawURL, ro.header)
			if err != nil {
				if resilience.IsRateLimited(err) {
					lim.OnRateLimit()
				}
				return err
			}
			lim.OnSuccess()
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *HTTPFetcher) do(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", req.URL.Host)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.HTTPError(rawURL, resp.StatusCode)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// GetJSON implements Fetcher.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, out any, opts ...RequestOption) error {
	opts = append([]RequestOption{WithHeader("Accept", "application/json")}, opts...)
	resp, err := f.Get(ctx, rawURL, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return eris.Wrapf(err, "fetcher: decode json from %s", rawURL)
	}
	return nil
}
