package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/pkg/logger"
)

// Error codes returned in ErrorBody.Code and in action results.
const (
	CodeNotFound      = "not_found"
	CodeStateConflict = "state_conflict"
	CodeInvalidInput  = "invalid_input"
	CodeBusy          = "busy"
	CodeRetry         = "retry"
	CodeBadRequest    = "bad_request"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", "error", err)
	}
}

// Fail writes an error envelope.
func Fail(w http.ResponseWriter, status int, code, msg string) {
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, ErrorBody{Error: msg, Code: code})
}

// Classify returns the status and code for err. Unknown errors are 500.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrDataInsufficient):
		return http.StatusUnprocessableEntity, CodeInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrStateConflict):
		return http.StatusConflict, CodeStateConflict
	case errors.Is(err, distlock.ErrBusy):
		return http.StatusConflict, CodeBusy
	case errors.Is(err, domain.ErrPersistence), errors.Is(err, distlock.ErrLock):
		return http.StatusServiceUnavailable, CodeRetry
	}
	return http.StatusInternalServerError, CodeInternal
}

// StatusForCode is the inverse of Classify for a code carried in a
// result body.
func StatusForCode(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStateConflict, CodeBusy:
		return http.StatusConflict
	case CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case CodeRetry, CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// WriteError classifies err and writes it. 5xx details are logged and
// replaced by a generic message.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		logger.Warn("request failed, retryable", "error", err)
		msg = "temporarily unavailable, retry the request"
	case status >= 500:
		logger.Error("request failed", "error", err)
		msg = "internal server error"
	case code == CodeBusy:
		msg = "another run is in progress"
	}
	Fail(w, status, code, msg)
}

// Decode reads a JSON body into dst, writing a 400 on failure.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Fail(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
