// Package errors provides structured error handling with context propagation
// for the account store, token lifecycle, and cache subsystems.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error for metrics and user-facing formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input on an account operation
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates a missing account or token set
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates a duplicate account id
	TypeConflict ErrorType = "conflict"
	// TypeDecryption indicates an authentication-tag failure (tamper or wrong key)
	TypeDecryption ErrorType = "decryption"
	// TypeStorage indicates a persistence failure on the account file or backups
	TypeStorage ErrorType = "storage"
	// TypeExternal indicates a remote OAuth provider error
	TypeExternal ErrorType = "external"
	// TypeInternal indicates an unexpected internal error
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ValidationError creates a new validation error.
func ValidationError(message string) *Error {
	return &Error{
		Type:    TypeValidation,
		Message: message,
		Context: make(map[string]any),
	}
}

// NotFoundError creates a new not-found error.
func NotFoundError(message string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Message: message,
		Context: make(map[string]any),
	}
}

// ConflictError creates a new conflict error.
func ConflictError(message string) *Error {
	return &Error{
		Type:    TypeConflict,
		Message: message,
		Context: make(map[string]any),
	}
}

// DecryptionError creates a new decryption error. It must always propagate to
// callers; silently returning empty credentials would mask a tampered store
// behind an innocuous re-auth prompt.
func DecryptionError(message string, cause error) *Error {
	return &Error{
		Type:    TypeDecryption,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// StorageError creates a new storage error.
func StorageError(message string, cause error) *Error {
	return &Error{
		Type:    TypeStorage,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ExternalError creates a new external service error.
func ExternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeExternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error.
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext (chainable).
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// IsType reports whether err is a structured error of the given type.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr.Type == t
	}
	return false
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal error", err)
}
