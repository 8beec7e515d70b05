// Package errs holds the error kinds shared by the reconciliation engines.
// Callers match them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// Validation kinds: rejected before any store access.
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidStatus   = errors.New("invalid order status")
	ErrAmountMismatch  = errors.New("amount does not match computed total")
	ErrMissingActor    = errors.New("actor is required")

	// Store kinds.
	ErrNotFound          = errors.New("not found")
	ErrStockLookupFailed = errors.New("stock lookup failed")
	ErrPersistenceFailed = errors.New("persistence failed")

	// Concurrency / lifecycle kinds.
	ErrDocumentLocked = errors.New("document is locked after invoice confirmation")
	ErrBusy           = errors.New("entity is being modified by another request")
)

type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError with a formatted detail message.
func Invalid(kind error, format string, args ...any) error {
	return &ValidationError{Err: kind, Details: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a failed store write. It matches both
// ErrPersistenceFailed and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistenceFailed.Error(), e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistenceFailed, e.Err} }

// Persistence wraps err unless it is nil or already a domain kind that
// the caller should see as-is.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, keep := range []error{ErrNotFound, ErrPersistenceFailed, ErrDocumentLocked, ErrBusy} {
		if errors.Is(err, keep) {
			return err
		}
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
