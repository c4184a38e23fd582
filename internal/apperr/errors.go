// Package apperr defines the error taxonomy shared by the repository, the
// index and the transport adapters.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrParse      = errors.New("parse error")
	ErrDrift      = errors.New("index drift")
	ErrStorage    = errors.New("storage error")
)

// ValidationError reports input that fails note policy checks.
type ValidationError struct {
	Err error
}

// NewValidationError wraps err (typically ozzo validation.Errors).
func NewValidationError(err error) *ValidationError {
	return &ValidationError{Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ParseError reports a note file that cannot be decoded.
type ParseError struct {
	Path  string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	msg := "parse"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// DriftError reports a disagreement between the file tree and the index.
type DriftError struct {
	ID     string
	Reason string
	Err    error
}

func (e *DriftError) Error() string {
	msg := fmt.Sprintf("drift on %s: %s", e.ID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DriftError) Unwrap() error { return e.Err }

func (e *DriftError) Is(target error) bool { return target == ErrDrift }

// StorageError reports an I/O or transactional failure.
type StorageError struct {
	Op  string
	Err error
}

// Storage wraps err as a StorageError for op. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
