package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrVersionConflict, want: true},
		{name: "wrapped version conflict", err: fmt.Errorf("%w: cargo key 1", ErrVersionConflict), want: true},
		{name: "joined version conflict", err: errors.Join(ErrVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "invalid input", err: fmt.Errorf("%w: key 0", ErrInvalidInput), want: true},
		{name: "not found", err: ErrNotFound, want: true},
		{name: "duplicate", err: fmt.Errorf("%w: cargo key 1", ErrDuplicate), want: true},
		{name: "validation failed", err: ErrValidationFailed, want: true},
		{name: "terminal conflict", err: fmt.Errorf("retries exhausted: %w", ErrVersionConflict), want: true},
		{name: "malformed", err: ErrMalformedMessage, want: true},
		{name: "infrastructure", err: errors.New("dial tcp: connection refused"), want: false},
		{name: "outbox publish", err: ErrOutboxPublish, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}
