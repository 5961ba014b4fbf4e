package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the attendance-to-ledger engine.
var (
	ErrInvalidStatus      = New("INVALID_STATUS", http.StatusBadRequest, "attendance status outside the supported set")
	ErrInvalidAmount      = New("INVALID_AMOUNT", http.StatusBadRequest, "monetary amount must be positive")
	ErrEmptySelection     = New("EMPTY_SELECTION", http.StatusBadRequest, "bulk operation requires at least one student")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conditional write failed after retries")
	ErrDuplicateOrigin    = New("DUPLICATE_ORIGIN", http.StatusConflict, "a credit with this origin tag already exists")
	ErrInsufficientCredit = New("INSUFFICIENT_CREDIT", http.StatusConflict, "unused credit is less than the requested amount")
	ErrPermissionDenied   = New("PERMISSION_DENIED", http.StatusForbidden, "caller is not an administrator")
	ErrUnavailable        = New("UNAVAILABLE", http.StatusServiceUnavailable, "persistence substrate unavailable")
	ErrCancelled          = New("CANCELLED", 499, "operation cancelled before persistence")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache entry not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target.
// Retry loops use it to decide whether a failure is retryable.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code == target.Code
	}
	return false
}
