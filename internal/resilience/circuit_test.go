package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = NewTransientError(errors.New("upstream 503"), 503)

func failing(context.Context) error { return errFlaky }
func passing(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("www.reddit.com", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for range 3 {
		assert.ErrorIs(t, cb.Execute(context.Background(), failing), errFlaky)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), passing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_IgnoresPermanentErrors(t *testing.T) {
	cb := NewCircuitBreaker("www.reddit.com", CircuitBreakerConfig{FailureThreshold: 2})
	notFound := HTTPError("https://www.reddit.com/r/gone/hot.json", 404)

	for range 5 {
		_ = cb.Execute(context.Background(), func(context.Context) error { return notFound })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("api.twitter.com", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), failing)
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), passing))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("api.twitter.com", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), failing)
	now = now.Add(11 * time.Second)
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestHostBreakers(t *testing.T) {
	hb := NewHostBreakers(CircuitBreakerConfig{FailureThreshold: 1})
	a := hb.Get("a.example")
	assert.Same(t, a, hb.Get("a.example"))

	_ = a.Execute(context.Background(), failing)
	_ = hb.Get("b.example")

	states := hb.States()
	assert.Equal(t, "open", states["a.example"])
	assert.Equal(t, "closed", states["b.example"])
}
