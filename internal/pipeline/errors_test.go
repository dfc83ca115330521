package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"classified error", Errorf(KindBudgetExceeded, "budget gone"), KindBudgetExceeded},
		{"wrapped classified error", fmt.Errorf("stage: %w", Errorf(KindStateConflict, "busy")), KindStateConflict},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"plain error defaults to transient", errors.New("connection reset"), KindNetTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRetryableFatalSplit(t *testing.T) {
	retryable := []ErrorKind{KindNetTransient, KindTimeout, KindDependencyMissing, KindDecodingError}
	fatal := []ErrorKind{KindUpstreamError, KindValidationError, KindBudgetExceeded}

	for _, kind := range retryable {
		err := Errorf(kind, "x")
		if !Retryable(err) {
			t.Errorf("%s must be retryable", kind)
		}
		if Fatal(err) {
			t.Errorf("%s must not be fatal", kind)
		}
	}
	for _, kind := range fatal {
		err := Errorf(kind, "x")
		if Retryable(err) {
			t.Errorf("%s must not be retryable", kind)
		}
		if !Fatal(err) {
			t.Errorf("%s must be fatal", kind)
		}
	}

	// STATE_CONFLICT is neither: handlers resolve it as already-done
	conflict := Errorf(KindStateConflict, "already applied")
	if Retryable(conflict) || Fatal(conflict) {
		t.Error("STATE_CONFLICT must be neither retryable nor fatal")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindNetTransient},
		{500, KindNetTransient},
		{503, KindNetTransient},
		{400, KindUpstreamError},
		{404, KindUpstreamError},
		{200, KindNetTransient},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("Expected empty message for nil, got %q", got)
	}

	classified := Errorf(KindValidationError, "file exceeds the size limit")
	if got := UserMessage(classified); got != "file exceeds the size limit (VALIDATION_ERROR)" {
		t.Errorf("Unexpected message: %q", got)
	}

	// Unclassified errors are truncated at the first colon
	raw := errors.New("dial tcp 10.0.0.5:443: connect: connection refused")
	got := UserMessage(raw)
	if got != "dial tcp 10.0.0.5 (NET_TRANSIENT)" {
		t.Errorf("Unexpected truncation: %q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindUpstreamError, "call failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable with errors.Is")
	}
}
