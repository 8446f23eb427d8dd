// Package apperror provides structured error handling for the sync layer.
// All errors crossing a package boundary should use AppError so callers can
// distinguish recoverable decode problems from data-integrity and remote
// failures.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes by failure class
const (
	// Recovered locally: logged, value nulled, siblings unaffected
	CodeDecode = "DECODE_ERROR"

	// Data-integrity errors: surfaced synchronously to the caller
	CodeMalformedLookup = "MALFORMED_LOOKUP"
	CodeMissingID       = "MISSING_ENTITY_ID"

	// Registration/lookup errors
	CodeListNotRegistered = "LIST_NOT_REGISTERED"

	// Remote operation failures: abort the cycle, no cache mutation
	CodeRemote = "REMOTE_ERROR"

	// Filter expression compilation/evaluation failures
	CodeFilter = "FILTER_ERROR"

	CodeInternal = "INTERNAL_ERROR"
)

// AppError is the standard error type for the module.
// It implements the error interface and provides structured details.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (list id, field name, raw value, etc.)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewDecode creates a recoverable field decode error.
func NewDecode(fieldType, raw string, err error) *AppError {
	return &AppError{
		Code:    CodeDecode,
		Message: fmt.Sprintf("cannot decode %s value", fieldType),
		Details: map[string]any{"object_type": fieldType, "raw": raw},
		Err:     err,
	}
}

// NewMalformedLookup creates a data-integrity error for a lookup value whose
// id portion is absent or non-numeric. This indicates upstream decode
// corruption and must not be silently skipped.
func NewMalformedLookup(property string, value any) *AppError {
	return &AppError{
		Code:    CodeMalformedLookup,
		Message: fmt.Sprintf("lookup property %q has no numeric id", property),
		Details: map[string]any{"property": property, "value": value},
	}
}

// NewMissingID is returned when a record without a persisted id is offered
// for registration. Unpersisted entities are not cacheable by definition.
func NewMissingID(listID string) *AppError {
	return &AppError{
		Code:    CodeMissingID,
		Message: "record has no entity id and cannot be cached",
		Details: map[string]any{"list_id": listID},
	}
}

// NewListNotRegistered is returned when an operation names a list the
// registry has never seen.
func NewListNotRegistered(list string) *AppError {
	return &AppError{
		Code:    CodeListNotRegistered,
		Message: fmt.Sprintf("list %q is not registered", list),
		Details: map[string]any{"list": list},
	}
}

// NewRemote wraps a transport or server failure for a whole sync cycle.
func NewRemote(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeRemote,
		Message: fmt.Sprintf("remote operation %s failed", operation),
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

// NewFilter wraps a filter expression compile or evaluation failure.
func NewFilter(expr string, err error) *AppError {
	return &AppError{
		Code:    CodeFilter,
		Message: "filter expression failed",
		Details: map[string]any{"expression": expr},
		Err:     err,
	}
}

// NewInternal creates an internal error wrapping err.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsMalformedLookup checks if error is CodeMalformedLookup
func IsMalformedLookup(err error) bool {
	return IsCode(err, CodeMalformedLookup)
}

// IsRemote checks if error is CodeRemote
func IsRemote(err error) bool {
	return IsCode(err, CodeRemote)
}
