package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError(cause), ErrValidation},
		{"parse", &ParseError{Path: "a.md", Field: "id", Err: cause}, ErrParse},
		{"drift", &DriftError{ID: "a", Reason: "file missing"}, ErrDrift},
		{"storage", Storage("write", cause), ErrStorage},
	}
	all := []error{ErrNotFound, ErrConflict, ErrValidation, ErrParse, ErrDrift, ErrStorage}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("repository: op: %w", tt.err)
			for _, s := range all {
				if got, want := errors.Is(wrapped, s), s == tt.sentinel; got != want {
					t.Errorf("errors.Is(%v, %v) = %v, want %v", wrapped, s, got, want)
				}
			}
		})
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	err := Storage("read", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("storage error should unwrap to its cause")
	}

	var pe *ParseError
	if !errors.As(fmt.Errorf("x: %w", &ParseError{Path: "n.md"}), &pe) || pe.Path != "n.md" {
		t.Errorf("errors.As ParseError failed: %+v", pe)
	}
}

func TestStorageNil(t *testing.T) {
	if Storage("op", nil) != nil {
		t.Error("Storage(nil) should be nil")
	}
}

func TestParseErrorMessage(t *testing.T) {
	err := &ParseError{Path: "n.md", Field: "type", Err: errors.New("missing")}
	if got, want := err.Error(), `parse n.md: field "type": missing`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
