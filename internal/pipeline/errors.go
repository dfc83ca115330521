// Flat error taxonomy for the generation pipeline. Errors are classified at
// the boundary where they occur and carried up through return values; retry
// policy is decided from the kind, never from string matching at call sites.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a pipeline failure for retry policy
type ErrorKind string

const (
	KindNetTransient      ErrorKind = "NET_TRANSIENT"      // timeouts, resets, 5xx: retry with backoff
	KindUpstreamError     ErrorKind = "UPSTREAM_ERROR"     // permanent 4xx semantics: no retry
	KindDecodingError     ErrorKind = "DECODING_ERROR"     // LLM output unparseable: stricter retry, then escalate
	KindBudgetExceeded    ErrorKind = "BUDGET_EXCEEDED"    // token/cost budget tripped: no retry
	KindTimeout           ErrorKind = "TIMEOUT"            // soft deadline hit: one queue-level retry
	KindStateConflict     ErrorKind = "STATE_CONFLICT"     // FSM forbids the action: no retry
	KindValidationError   ErrorKind = "VALIDATION_ERROR"   // data invariant violated: no retry
	KindDependencyMissing ErrorKind = "DEPENDENCY_MISSING" // precondition not met: requeue with delay
)

// Error is a classified pipeline error
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error wrapping an optional cause
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf creates a classified error with a formatted message
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors default to NET_TRANSIENT so unknown failures stay
// retryable rather than silently dropping work.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetTransient
	}
	return KindNetTransient
}

// Retryable reports whether the queue should retry a job that failed with err
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetTransient, KindTimeout, KindDependencyMissing, KindDecodingError:
		return true
	}
	return false
}

// Fatal reports whether the failure should drive the course to failed once
// queue retries are exhausted
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindUpstreamError, KindValidationError, KindBudgetExceeded:
		return true
	}
	return false
}

// ClassifyHTTPStatus maps an upstream HTTP status to an error kind
func ClassifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == 429 || status >= 500:
		return KindNetTransient
	case status >= 400:
		return KindUpstreamError
	}
	return KindNetTransient
}

// UserMessage renders a human-readable, non-sensitive description suitable
// for generation_metadata.error_message
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	var pe *Error
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s (%s)", pe.Msg, kind)
	}
	// Strip anything after the first colon to avoid leaking internals
	msg := err.Error()
	if i := strings.IndexByte(msg, ':'); i > 0 {
		msg = msg[:i]
	}
	return fmt.Sprintf("%s (%s)", msg, kind)
}
