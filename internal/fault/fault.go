// Package fault defines the error taxonomy shared by the orchestrator and the
// HTTP API. Every error carries a machine-readable code so callers can react
// programmatically instead of parsing message text.
package fault

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeValidation means the input was malformed. Never retried.
	CodeValidation Code = "validation"
	// CodeNotFound means the referenced session or snapshot does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict means the operation is invalid for the current state
	// (e.g. stop on a terminal session). Never retried.
	CodeConflict Code = "conflict"
	// CodeUnavailable means the platform or store was temporarily
	// unreachable. Retryable by the caller.
	CodeUnavailable Code = "upstream_unavailable"
	// CodeInconsistent means the platform reported a state that contradicts
	// an invariant. The live answer wins; the stored record is overwritten.
	CodeInconsistent Code = "upstream_inconsistent"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a validation error.
func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error.
func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflict returns a conflict error.
func Conflict(format string, args ...any) error {
	return &Error{Code: CodeConflict, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as an upstream-unavailable error.
func Unavailable(err error, format string, args ...any) error {
	return &Error{Code: CodeUnavailable, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Inconsistent returns an upstream-inconsistent error.
func Inconsistent(format string, args ...any) error {
	return &Error{Code: CodeInconsistent, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, or "" if err is not a fault error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
