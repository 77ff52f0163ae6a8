package browse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	require.NoError(t, cb.Check("example.org"))
	cb.RecordFailure("example.org")
	cb.RecordFailure("example.org")
	assert.Equal(t, CircuitClosed, cb.State("example.org"))

	cb.RecordFailure("example.org")
	assert.Equal(t, CircuitOpen, cb.State("example.org"))
	assert.Error(t, cb.Check("example.org"))

	// Other hosts unaffected.
	assert.NoError(t, cb.Check("example.com"))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure("example.org")
	require.Equal(t, CircuitOpen, cb.State("example.org"))

	time.Sleep(20 * time.Millisecond)

	// First check after the window is the probe; a second concurrent check
	// is refused until the probe resolves.
	require.NoError(t, cb.Check("example.org"))
	assert.Error(t, cb.Check("example.org"))

	cb.RecordSuccess("example.org")
	assert.Equal(t, CircuitClosed, cb.State("example.org"))
	assert.NoError(t, cb.Check("example.org"))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure("example.org")

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Check("example.org"))

	cb.RecordFailure("example.org")
	assert.Equal(t, CircuitOpen, cb.State("example.org"))
	assert.Error(t, cb.Check("example.org"))
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure("example.org")
	require.Equal(t, CircuitOpen, cb.State("example.org"))

	cb.Reset("example.org")
	assert.Equal(t, CircuitClosed, cb.State("example.org"))
	assert.NoError(t, cb.Check("example.org"))
}

func TestFetcherTripsBreakerOnRefusedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cb := NewCircuitBreaker(2, time.Minute)
	f := NewFetcher(WithCircuitBreaker(cb))
	ctx := context.Background()

	_, err := f.Fetch(ctx, url)
	require.Error(t, err)
	_, err = f.Fetch(ctx, url)
	require.Error(t, err)

	// Third attempt is refused by the breaker before any dial.
	_, err = f.Fetch(ctx, url)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "circuit_open"))
}
