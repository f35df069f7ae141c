// Package errors defines the engine's typed error taxonomy.
//
// Every error the core surfaces to a caller is (or wraps) an *AppError so
// that host programs can branch on machine-readable kind rather than
// string-matching messages.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType is the machine-readable error kind.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeDatabase      ErrorType = "database"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypePoolExhausted ErrorType = "pool_exhausted"
	ErrorTypeCircuitOpen   ErrorType = "circuit_open"
	ErrorTypeEmbedding     ErrorType = "embedding_unavailable"
	ErrorTypeCancelled     ErrorType = "cancelled"
	ErrorTypeConfig        ErrorType = "invalid_config"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:    http.StatusBadRequest,
	ErrorTypeAuth:          http.StatusUnauthorized,
	ErrorTypeNotFound:      http.StatusNotFound,
	ErrorTypeConflict:      http.StatusConflict,
	ErrorTypeTimeout:       http.StatusRequestTimeout,
	ErrorTypeRateLimit:     http.StatusTooManyRequests,
	ErrorTypeDatabase:      http.StatusInternalServerError,
	ErrorTypeNetwork:       http.StatusInternalServerError,
	ErrorTypeInternal:      http.StatusInternalServerError,
	ErrorTypePoolExhausted: http.StatusServiceUnavailable,
	ErrorTypeCircuitOpen:   http.StatusServiceUnavailable,
	ErrorTypeEmbedding:     http.StatusServiceUnavailable,
	ErrorTypeCancelled:     http.StatusRequestTimeout,
	ErrorTypeConfig:        http.StatusInternalServerError,
}

// AppError is the engine's structured error value.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap wraps an underlying error with an AppError of the given type.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf wraps an underlying error with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches extra, non-sensitive detail to the error in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted detail to the error in place.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Predefined constructors for the most common kinds.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewPoolExhaustedError(message string) *AppError {
	return New(ErrorTypePoolExhausted, message)
}

func NewCircuitOpenError(dependency string) *AppError {
	return Newf(ErrorTypeCircuitOpen, "circuit open for %s", dependency)
}

func NewEmbeddingUnavailableError(message string) *AppError {
	return New(ErrorTypeEmbedding, message)
}

func NewCancelledError(message string) *AppError {
	return New(ErrorTypeCancelled, message)
}

func NewConfigError(message string) *AppError {
	return New(ErrorTypeConfig, message)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	if appErr, ok := asAppError(err); ok {
		return appErr.Type == t
	}
	return false
}

// GetType returns the error's type, or ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	if appErr, ok := asAppError(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the status code associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := asAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func asAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// ErrorMessages holds user-visible text for error types whose raw message
// might embed backend driver text or other data not safe to surface.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded",
	ConcurrentModification: "The resource was modified concurrently",
}

// SafeErrorMessage returns a message safe to show to a caller: validation
// messages pass through (they describe the caller's own input), everything
// else is replaced with a generic, type-appropriate message.
func SafeErrorMessage(err error) string {
	appErr, ok := asAppError(err)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns structured fields suitable for a logrus.WithFields call.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := asAppError(err)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors into one error, in order, separated by " -> ".
// It returns nil if every error is nil, and returns the single error
// unchanged if only one is non-nil.
func Chain(errs ...error) error {
	var filtered []error
	for _, e := range errs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		msg := filtered[0].Error()
		for _, e := range filtered[1:] {
			msg += " -> " + e.Error()
		}
		return fmt.Errorf("%s", msg)
	}
}
