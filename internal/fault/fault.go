// Package fault defines the tagged error kinds shared across the engine.
//
// Every component classifies its failures into one of the kinds below so
// callers can decide between retrying, surfacing, or degrading gracefully
// without string-matching error text.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// QueryGenerationFailed means the chat model returned no executable query.
	QueryGenerationFailed Kind = "query_generation_failed"

	// QueryExecutionFailed means a store rejected a synthesized query.
	QueryExecutionFailed Kind = "query_execution_failed"

	// ValidationFailed means an ontology constraint was violated during extraction.
	ValidationFailed Kind = "validation_failed"

	// ConfidenceBelowThreshold means an extraction fell under the quarantine gate.
	ConfidenceBelowThreshold Kind = "confidence_below_threshold"

	// BackendUnavailable covers connection refused/reset, 5xx responses and timeouts.
	BackendUnavailable Kind = "backend_unavailable"

	// SchemaMismatch means a store returned a shape the adapter cannot interpret.
	SchemaMismatch Kind = "schema_mismatch"

	// ConfigurationError means an empty or invalid tenant/workspace/ontology identifier.
	ConfigurationError Kind = "configuration_error"

	// ConcurrencyLimitExceeded means a pool stayed saturated past the caller's deadline.
	ConcurrencyLimitExceeded Kind = "concurrency_limit_exceeded"
)

// Error is a classified failure. It wraps an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: err}
}

// KindOf returns the kind of err, or the empty string for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether the failure is transient. Only backend
// unavailability and pool saturation qualify; everything else either needs
// a repaired query or human attention.
func Retriable(err error) bool {
	switch KindOf(err) {
	case BackendUnavailable, ConcurrencyLimitExceeded:
		return true
	default:
		return false
	}
}
