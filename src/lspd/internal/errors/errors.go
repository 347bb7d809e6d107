// Package errors defines the structured error taxonomy surfaced by lspd.
// Every error returned to a caller carries a Kind so that transports can
// report a stable classification instead of raw text.
package errors

import (
	stderr "errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

// The full taxonomy of caller-visible error kinds.
const (
	// KindNotFound indicates a Locate that resolves to no known workspace.
	KindNotFound Kind = "not_found"
	// KindClientSpawn indicates the language server failed to start.
	KindClientSpawn Kind = "client_spawn"
	// KindClientUnavailable indicates a root in cooldown after repeated
	// spawn failures.
	KindClientUnavailable Kind = "client_unavailable"
	// KindTimeout indicates a call exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindCancelled indicates a call cancelled by shutdown or the caller.
	KindCancelled Kind = "cancelled"
	// KindUnknownCapability indicates an unregistered capability name.
	KindUnknownCapability Kind = "unknown_capability"
	// KindInvalidRequest indicates a malformed request body.
	KindInvalidRequest Kind = "invalid_request"
	// KindProtocol indicates a transport-level failure on the language
	// server connection.
	KindProtocol Kind = "protocol"
)

// Error is a classified service error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

// Error is an implementation of the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

// Unwrap supports errors.Is and errors.As on the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// E builds a classified error from a format string.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: err}
}

// KindOf returns the Kind of the first classified error in the chain, or
// an empty Kind if none is present.
func KindOf(err error) Kind {
	var e *Error
	if stderr.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain contains a classified error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}
