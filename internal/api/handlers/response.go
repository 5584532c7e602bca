package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error             string `json:"error"`
	Type              string `json:"type,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Degraded          bool   `json:"degraded,omitempty"`
	Suggestions       any    `json:"suggestions,omitempty"`
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, errorResponse{Error: message})
}

// statusFor maps an error type to its HTTP status
func statusFor(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict, apperrors.ErrorTypeCapacityExceeded:
		return http.StatusConflict
	case apperrors.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrorTypeLockBusy, apperrors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithAppError writes err with the status of its type. Internal
// details are logged and never returned to the client.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error, suggestions any) {
	appErr, ok := apperrors.As(err)
	if !ok {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := statusFor(appErr.Type)
	body := errorResponse{
		Error:       appErr.Message,
		Type:        string(appErr.Type),
		Degraded:    appErr.Degraded,
		Suggestions: suggestions,
	}

	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}

	if appErr.Retryable() {
		seconds := retryAfterSeconds(appErr.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		body.RetryAfterSeconds = seconds
	}

	respondWithJSON(w, status, body)
}

// retryAfterSeconds rounds up to whole seconds, at least one
func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
