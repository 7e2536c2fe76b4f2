package errkind

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := E(NotFound, "channel %s missing", "abc")
	assert.Equal(t, NotFound, KindOf(err))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := E(Validation, "bad width")
	wrapped := fmt.Errorf("submitting: %w", inner)

	assert.Equal(t, Validation, KindOf(wrapped))
	assert.True(t, Is(wrapped, Validation))
	assert.False(t, Is(wrapped, Conflict))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Storage, cause, "writing output")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage_error")
	assert.Contains(t, err.Error(), "writing output")
	assert.Contains(t, err.Error(), "disk full")
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		Validation:      http.StatusBadRequest,
		NotFound:        http.StatusNotFound,
		Conflict:        http.StatusConflict,
		Unauthorized:    http.StatusUnauthorized,
		Forbidden:       http.StatusForbidden,
		PayloadTooLarge: http.StatusRequestEntityTooLarge,
		RateLimited:     http.StatusTooManyRequests,
		Unavailable:     http.StatusServiceUnavailable,
		Plugin:          http.StatusInternalServerError,
		Transcode:       http.StatusInternalServerError,
		Storage:         http.StatusInternalServerError,
		Internal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}
