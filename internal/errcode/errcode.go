// Package errcode defines structured error codes for the failure modes
// that matter operationally: which ones abort a monitor, which ones are
// expected steady-state degradation.
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies a specific error condition.
type Code string

const (
	// LockTimeout: the registry advisory lock was not acquired within the
	// bounded window. The caller's mutation fails and may be retried.
	LockTimeout Code = "LOCK_TIMEOUT"

	// RegistryCorrupt: the registry file was unparsable. Self-healing
	// (treated as empty); surfaced only as a diagnostic.
	RegistryCorrupt Code = "REGISTRY_CORRUPT"

	// ConnectFailure: an endpoint could not be reached. The hook path
	// abandons silently.
	ConnectFailure Code = "CONNECT_FAILURE"

	// ParseError: a malformed event line. The line is skipped, the
	// connection stays open.
	ParseError Code = "PARSE_ERROR"

	// MissingTranscript: an event that would create a session lacks a
	// transcript path. The event is dropped.
	MissingTranscript Code = "MISSING_TRANSCRIPT"

	// ConsumerFailure: the downstream processBatch/finalize call failed.
	// Logged, never propagated, never retried.
	ConsumerFailure Code = "CONSUMER_FAILURE"

	// SocketBind: the listening endpoint could not be bound at startup.
	// Fatal to starting the monitor.
	SocketBind Code = "SOCKET_BIND"
)

// Error carries a code, a message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps a cause with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from err, or "" if it has none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
