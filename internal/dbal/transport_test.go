package dbal

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildGet(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestTransportRetriesRetryableStatuses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTransport(time.Second, 3, time.Millisecond, testLogger())
	resp, err := tr.do(context.Background(), buildGet(srv.URL))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, CircuitClosed, tr.state())
}

func TestTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := newTransport(time.Second, 3, time.Millisecond, testLogger())
	resp, err := tr.do(context.Background(), buildGet(srv.URL))
	require.NoError(t, err, "non-retryable statuses are returned, not retried")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransportExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := newTransport(time.Second, 2, time.Millisecond, testLogger())
	_, err := tr.do(context.Background(), buildGet(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := newBreaker()
	require.Equal(t, CircuitClosed, b.current())

	for i := 0; i < breakerThreshold; i++ {
		require.True(t, b.allow())
		b.failure()
	}
	assert.Equal(t, CircuitOpen, b.current())
	assert.False(t, b.allow(), "open breaker rejects requests")

	// Force the reset window to elapse, then let a probe through.
	b.mu.Lock()
	b.openedAt = time.Now().Add(-2 * breakerResetAfter)
	b.mu.Unlock()

	require.True(t, b.allow())
	assert.Equal(t, CircuitHalfOpen, b.current())
	assert.False(t, b.allow(), "half-open allows a single probe")

	b.success()
	assert.Equal(t, CircuitClosed, b.current())
	assert.True(t, b.allow())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := newBreaker()
	for i := 0; i < breakerThreshold; i++ {
		b.failure()
	}
	b.mu.Lock()
	b.openedAt = time.Now().Add(-2 * breakerResetAfter)
	b.mu.Unlock()

	require.True(t, b.allow())
	b.failure()
	assert.Equal(t, CircuitOpen, b.current())
	assert.False(t, b.allow())
}

func TestTransportFailsFastWhenOpen(t *testing.T) {
	tr := newTransport(time.Second, 0, time.Millisecond, testLogger())
	for i := 0; i < breakerThreshold; i++ {
		tr.breaker.failure()
	}

	_, err := tr.do(context.Background(), buildGet("http://127.0.0.1:1/"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestTransportDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"allowed":true}`))
		_ = gz.Close()
	}))
	defer srv.Close()

	tr := newTransport(time.Second, 0, time.Millisecond, testLogger())
	resp, err := tr.do(context.Background(), buildGet(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"allowed":true}`, string(body))
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(http.StatusTooManyRequests))
	assert.True(t, retryableStatus(http.StatusBadGateway))
	assert.True(t, retryableStatus(http.StatusServiceUnavailable))
	assert.True(t, retryableStatus(http.StatusGatewayTimeout))
	assert.False(t, retryableStatus(http.StatusOK))
	assert.False(t, retryableStatus(http.StatusForbidden))
	assert.False(t, retryableStatus(http.StatusInternalServerError))
}
