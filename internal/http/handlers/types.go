// Package handlers implements the API operations of the HTTP surface.
// Handlers translate between wire shapes and core operations; error bodies
// carry the daemon's error taxonomy as {"error": {code, message}}.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediabuilder/mediad/internal/errkind"
)

// ErrorDetail is the code+message pair of an error body.
type ErrorDetail struct {
	Code    string `json:"code" doc:"Stable error code"`
	Message string `json:"message" doc:"Human-readable description"`
}

// ErrorModel is the error body shape for every API error.
type ErrorModel struct {
	Detail ErrorDetail `json:"error"`

	status int
}

// Error implements the error interface.
func (e *ErrorModel) Error() string {
	return e.Detail.Message
}

// GetStatus implements huma.StatusError.
func (e *ErrorModel) GetStatus() int {
	return e.status
}

// codeForStatus maps bare HTTP statuses (validation failures raised by the
// framework itself) onto the error taxonomy.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return string(errkind.Validation)
	case http.StatusUnauthorized:
		return string(errkind.Unauthorized)
	case http.StatusForbidden:
		return string(errkind.Forbidden)
	case http.StatusNotFound:
		return string(errkind.NotFound)
	case http.StatusConflict:
		return string(errkind.Conflict)
	case http.StatusRequestEntityTooLarge:
		return string(errkind.PayloadTooLarge)
	case http.StatusTooManyRequests:
		return string(errkind.RateLimited)
	case http.StatusServiceUnavailable:
		return string(errkind.Unavailable)
	default:
		return string(errkind.Internal)
	}
}

func init() {
	// Replace huma's problem-details error body with the daemon's shape.
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		if len(errs) > 0 && message == "" {
			message = errs[0].Error()
		}
		return &ErrorModel{
			Detail: ErrorDetail{Code: codeForStatus(status), Message: message},
			status: status,
		}
	}
}

// apiError converts a core error into the wire error model, preserving its
// kind.
func apiError(err error) error {
	kind := errkind.KindOf(err)
	return &ErrorModel{
		Detail: ErrorDetail{Code: string(kind), Message: err.Error()},
		status: errkind.HTTPStatus(kind),
	}
}

// RateLimited writes the 429 error body; installed as the httprate limit
// handler.
func RateLimited(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(ErrorModel{
		Detail: ErrorDetail{
			Code:    string(errkind.RateLimited),
			Message: "rate limit exceeded",
		},
	})
}
