// Package apperr provides error code definitions shared across the offline layer.
package apperr

import "fmt"

// Code represents a stable error code surfaced to the host application.
type Code string

const (
	// General errors
	CodeInternal Code = "INTERNAL_ERROR"
	CodeInvalid  Code = "INVALID_INPUT"
	CodeNotFound Code = "NOT_FOUND"

	// Storage errors
	CodeStorage   Code = "STORAGE_ERROR"
	CodeMigration Code = "MIGRATION_FAILED"

	// Sync errors
	CodeSyncBusy       Code = "SYNC_BUSY"
	CodeSyncTimeout    Code = "SYNC_TIMEOUT"
	CodeRemoteRejected Code = "REMOTE_REJECTED"
	CodeRemoteConflict Code = "REMOTE_CONFLICT"
	CodeNotConflict    Code = "NOT_A_CONFLICT"
)

// Error is an application error with a code and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if appErr, ok := err.(*Error); ok {
		return appErr.Code == code
	}
	return false
}
