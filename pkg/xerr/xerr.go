// Package xerr implements the error taxonomy the gateway classifies every
// failure into: where it originated, whether it recovers locally, and what
// (if anything) is surfaced to a client.
package xerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the gateway's error-handling design
// recognizes. It is a classification, not a Go error type hierarchy: code
// checks Kind with errors.As against *Error, never with type switches on
// concrete adapter/session error types.
type Kind string

const (
	// TransientNetwork covers upstream connect/read/write failures that
	// recover via backoff and reconnect. Never surfaced to clients.
	TransientNetwork Kind = "transient_network"
	// PermanentVenue covers venue auth rejection or protocol mismatch.
	// Surfaced to subscribers as info{"degraded"}.
	PermanentVenue Kind = "permanent_venue"
	// ProtocolViolation covers a client frame the gateway cannot parse.
	// The frame is dropped; the session stays open.
	ProtocolViolation Kind = "protocol_violation"
	// ValidationFailure covers a well-formed but semantically invalid
	// client request (unknown venue, unresolvable symbol, ...).
	ValidationFailure Kind = "validation_failure"
	// SlowConsumer covers a subscriber whose queue could not absorb the
	// publish rate even after coalescing. Terminates that subscriber only.
	SlowConsumer Kind = "slow_consumer"
	// InvariantViolation covers a canonical-model invariant breach
	// (bid > ask, non-monotonic sequence, ...). Treated as a bug: isolate
	// the channel, keep the process running.
	InvariantViolation Kind = "invariant_violation"
	// ShutdownRequested covers graceful teardown, not a failure.
	ShutdownRequested Kind = "shutdown_requested"
)

// Error carries a Kind plus a human-readable reason and optional structured
// context (echoed verbatim in outbound error frames' "context" field).
type Error struct {
	Kind    Kind
	Reason  string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

func WithContext(kind Kind, reason string, ctx map[string]any) *Error {
	return &Error{Kind: kind, Reason: reason, Context: ctx}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Kind == kind
}
