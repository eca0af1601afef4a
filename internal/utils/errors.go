package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Origin  error  `json:"-"` // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error { return appErr.Origin }

// Standard error codes for the application
const (
	// Input errors, rejected before any state change
	ErrValidation = "VALIDATION_ERROR"

	// Precondition errors, the targeted record is left unchanged
	ErrForbidden = "FORBIDDEN"
	ErrBlocked   = "BLOCKED"
	ErrExpired   = "EXPIRED"

	// Resource errors
	ErrNotFound = "NOT_FOUND"
	ErrConflict = "CONFLICT"

	// Store unavailable, safe to retry
	ErrTransientIO = "TRANSIENT_IO"

	// Authentication errors
	ErrAuthRequired = "AUTH_REQUIRED"
	ErrUnauthorized = "UNAUTHORIZED"

	// Actor communication errors
	ErrActorTimeout = "ACTOR_TIMEOUT"

	// Rate limiting
	ErrTooManyRequests = "TOO_MANY_REQUESTS"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func NewForbiddenError(reason string) *AppError {
	return &AppError{Code: ErrForbidden, Message: reason}
}

func NewNotFoundError(what string) *AppError {
	return &AppError{Code: ErrNotFound, Message: what + " not found"}
}

func NewConflictError(reason string) *AppError {
	return &AppError{Code: ErrConflict, Message: reason}
}

func NewTransientError(op string, err error) *AppError {
	return &AppError{Code: ErrTransientIO, Message: "store unavailable: " + op, Origin: err}
}

func NewActorTimeoutError(actorName string, err error) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
		Origin:  err,
	}
}

// IsErrorCode reports whether any AppError in err's chain carries code.
func IsErrorCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ErrorCode returns the code of the first AppError in err's chain, or "" if none.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// AsAppError converts any error into an AppError, keeping an existing one.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(ErrTransientIO, "internal error", err)
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrAuthRequired, ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrBlocked, ErrExpired:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrTransientIO:
		return http.StatusServiceUnavailable
	case ErrActorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
