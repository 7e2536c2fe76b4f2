package dbal

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// The daemon talks to exactly one external service, so the transport is
// shaped for that: one retry policy, one circuit breaker, no per-service
// profiles. Requests carry bodies as byte slices so every retry attempt
// can resend them.

// ErrCircuitOpen is returned while the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("dbal circuit breaker is open")

// CircuitState describes the breaker's current disposition.
type CircuitState string

const (
	// CircuitClosed: requests flow normally.
	CircuitClosed CircuitState = "closed"
	// CircuitOpen: requests fail fast until the reset timeout elapses.
	CircuitOpen CircuitState = "open"
	// CircuitHalfOpen: one probe request is allowed through.
	CircuitHalfOpen CircuitState = "half-open"
)

// Breaker tuning. The remote being flaky degrades notifications, not core
// processing, so the threshold errs high.
const (
	breakerThreshold   = 10
	breakerResetAfter  = 30 * time.Second
	retryMaxDelay      = 30 * time.Second
	backoffMultiplier  = 2
	defaultDialTimeout = 10 * time.Second
)

// breaker is a minimal circuit breaker: consecutive failures open it,
// a reset timeout lets one probe through, and a probe success closes it.
type breaker struct {
	mu       sync.Mutex
	failures int
	state    CircuitState
	openedAt time.Time
	probing  bool
}

func newBreaker() *breaker {
	return &breaker{state: CircuitClosed}
}

// allow reports whether a request may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.openedAt) < breakerResetAfter {
			return false
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true
	default: // half-open: one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// success records a completed request and closes the breaker.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
	b.probing = false
}

// failure records a failed request, opening the breaker at the threshold
// or immediately when a half-open probe fails.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == CircuitHalfOpen {
		b.state = CircuitOpen
		b.openedAt = time.Now()
		return
	}
	b.failures++
	if b.failures >= breakerThreshold {
		b.state = CircuitOpen
		b.openedAt = time.Now()
	}
}

// current returns the breaker state.
func (b *breaker) current() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transport issues requests against the DBAL service with retries,
// exponential backoff, a circuit breaker, and transparent decompression.
type transport struct {
	client        *http.Client
	retryAttempts int
	retryDelay    time.Duration
	breaker       *breaker
	logger        *slog.Logger
}

func newTransport(timeout time.Duration, retryAttempts int, retryDelay time.Duration, logger *slog.Logger) *transport {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &transport{
		client:        &http.Client{Timeout: timeout},
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		breaker:       newBreaker(),
		logger:        logger,
	}
}

// retryableStatus reports whether a response status is worth another
// attempt: throttling and upstream gateway failures, nothing else.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// roundTrip executes one attempt and classifies the outcome.
func (t *transport) roundTrip(req *http.Request) (*http.Response, bool, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		// Network-level failures are retryable unless the caller gave up.
		if req.Context().Err() != nil {
			return nil, false, req.Context().Err()
		}
		return nil, true, err
	}
	if retryableStatus(resp.StatusCode) {
		resp.Body.Close()
		return nil, true, fmt.Errorf("dbal returned status %d", resp.StatusCode)
	}
	return resp, false, nil
}

// do sends a request, retrying with exponential backoff. buildReq is
// invoked per attempt so the body reader is fresh each time. Non-2xx
// statuses that are not retryable are returned to the caller undisturbed.
func (t *transport) do(ctx context.Context, buildReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if !t.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	delay := t.retryDelay
	var lastErr error

	for attempt := 0; attempt <= t.retryAttempts; attempt++ {
		if attempt > 0 {
			t.logger.Debug("retrying dbal request",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				t.breaker.failure()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= backoffMultiplier
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		req, err := buildReq(ctx)
		if err != nil {
			t.breaker.failure()
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")

		resp, retryable, err := t.roundTrip(req)
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				t.breaker.success()
			} else {
				t.breaker.failure()
			}
			resp.Body = decompressed(resp)
			return resp, nil
		}
		lastErr = err
		if !retryable {
			t.breaker.failure()
			return nil, err
		}
	}

	t.breaker.failure()
	return nil, fmt.Errorf("dbal request failed after %d attempts: %w", t.retryAttempts+1, lastErr)
}

// state exposes the breaker for health reporting.
func (t *transport) state() CircuitState {
	return t.breaker.current()
}

// decompressed wraps a response body according to its Content-Encoding.
func decompressed(resp *http.Response) io.ReadCloser {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.Body
		}
		return &layeredBody{outer: gz, inner: resp.Body}
	case "deflate":
		return &layeredBody{outer: flate.NewReader(resp.Body), inner: resp.Body}
	case "br":
		return &layeredBody{outer: io.NopCloser(brotli.NewReader(resp.Body)), inner: resp.Body}
	default:
		return resp.Body
	}
}

// layeredBody closes both the decompressor and the underlying body.
type layeredBody struct {
	outer io.ReadCloser
	inner io.ReadCloser
}

func (l *layeredBody) Read(p []byte) (int, error) {
	return l.outer.Read(p)
}

func (l *layeredBody) Close() error {
	outerErr := l.outer.Close()
	if err := l.inner.Close(); err != nil {
		return err
	}
	return outerErr
}
