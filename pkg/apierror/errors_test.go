package apierror

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		class    ErrorClass
		expected bool
	}{
		{name: "quota retries", class: ClassQuota, expected: true},
		{name: "auth does not retry", class: ClassAuth, expected: false},
		{name: "safety does not retry", class: ClassSafety, expected: false},
		{name: "transient does not retry", class: ClassTransient, expected: false},
		{name: "validation does not retry", class: ClassValidation, expected: false},
		{name: "empty class does not retry", class: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.class); got != tt.expected {
				t.Errorf("Retryable(%q) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &Error{
				Class:      ClassTransient,
				StatusCode: 503,
				Message:    "service unavailable",
				Err:        errors.New("connection reset"),
			},
			expected: "transient error (status 503): service unavailable: connection reset",
		},
		{
			name:     "error without wrapped error",
			err:      New(ClassQuota, 429, "RESOURCE_EXHAUSTED"),
			expected: "quota error (status 429): RESOURCE_EXHAUSTED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(ClassTransient, cause, "request failed")

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "direct", err: New(ClassAuth, 400, "API_KEY_INVALID"), expected: ClassAuth},
		{name: "wrapped", err: fmt.Errorf("generate: %w", New(ClassSafety, 200, "SAFETY")), expected: ClassSafety},
		{name: "plain error", err: errors.New("boom"), expected: ClassTransient},
		{name: "context cancelled", err: context.Canceled, expected: ClassTransient},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), expected: ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.expected {
				t.Errorf("ClassOf() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(fmt.Errorf("wait: %w", context.Canceled)) {
		t.Error("wrapped context.Canceled should be a cancellation")
	}
	if IsCancellation(New(ClassQuota, 429, "quota")) {
		t.Error("quota error is not a cancellation")
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ClassQuota, 429, "quota"))
	if !Is(err, ClassQuota) {
		t.Error("Is(err, ClassQuota) = false, want true")
	}
	if Is(err, ClassAuth) {
		t.Error("Is(err, ClassAuth) = true, want false")
	}
	if Is(nil, ClassTransient) {
		t.Error("Is(nil, ...) should be false")
	}
}
