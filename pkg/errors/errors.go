package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates the requested time range collides with a scheduled appointment
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeCapacityExceeded indicates the availability slot has no capacity left
	ErrorTypeCapacityExceeded ErrorType = "CAPACITY_EXCEEDED"

	// ErrorTypeRateLimited indicates the caller exceeded its request budget
	ErrorTypeRateLimited ErrorType = "RATE_LIMITED"

	// ErrorTypeLockBusy indicates another booking holds the doctor's time bucket
	ErrorTypeLockBusy ErrorType = "LOCK_BUSY"

	// ErrorTypeUnavailable indicates a backing service could not be reached
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error

	// RetryAfter is a hint for retryable conditions (rate limited, lock busy).
	RetryAfter time.Duration

	// Degraded is set when the error was produced while a dependency was unreachable.
	Degraded bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same request later
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimited, ErrorTypeLockBusy, ErrorTypeUnavailable:
		return true
	default:
		return false
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new scheduling conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewCapacityExceededError creates a new capacity exceeded error
func NewCapacityExceededError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeCapacityExceeded,
		Message: message,
	}
}

// NewRateLimitedError creates a new rate limited error carrying a retry hint
func NewRateLimitedError(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewLockBusyError creates a new lock busy error carrying a retry hint
func NewLockBusyError(message string, retryAfter time.Duration, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeLockBusy,
		Message:    message,
		Err:        err,
		RetryAfter: retryAfter,
		Degraded:   err != nil,
	}
}

// NewUnavailableError creates a new infrastructure unavailable error
func NewUnavailableError(message string, degraded bool, err error) *AppError {
	return &AppError{
		Type:     ErrorTypeUnavailable,
		Message:  message,
		Err:      err,
		Degraded: degraded,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries an AppError of the given type
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}

// RetryAfterOf returns the retry hint carried by err, or zero
func RetryAfterOf(err error) time.Duration {
	if appErr, ok := As(err); ok {
		return appErr.RetryAfter
	}
	return 0
}
