// Package sqlerr defines the error taxonomy shared by the script generators
// and the runtime persisters.
//
// Every failure is classified into one of a small set of kinds so callers can
// branch with errors.Is without inspecting driver specific error values:
//
//   - ErrValidation: bad entity metadata, fatal for that entity's scripts
//   - ErrConcurrencyConflict: stale version on update/complete, retry with fresh state
//   - ErrDuplicateKey: unique constraint violation on insert
//   - ErrDialectUnsupported: no mapping for a type or idiom, fatal at build time
//   - ErrCleanupFailure: outbox retention sweep failed, retried next tick
//   - ErrNotFound: the addressed row does not exist
package sqlerr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrDialectUnsupported  = errors.New("dialect unsupported")
	ErrCleanupFailure      = errors.New("cleanup failure")
	ErrNotFound            = errors.New("not found")
)

// OpError attaches operation and entity context to a classified failure.
//
// Both Kind and Err are reachable through errors.Is/As, so a caller can test
// for ErrDuplicateKey and still inspect the underlying driver error.
type OpError struct {
	// Op names the operation, e.g. "saga.update" or "outbox.store".
	Op string

	// Entity identifies the saga type, message id or table involved.
	Entity string

	// Kind is one of the package sentinels.
	Kind error

	// Err is the underlying cause, may be nil.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := e.Op
	if e.Entity != "" {
		msg += " " + e.Entity
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the kind and the cause.
func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds an OpError with no underlying cause.
func New(op, entity string, kind error) *OpError {
	return &OpError{Op: op, Entity: entity, Kind: kind}
}

// Wrap classifies err under kind with operation context.
func Wrap(op, entity string, kind, err error) *OpError {
	return &OpError{Op: op, Entity: entity, Kind: kind, Err: err}
}

// Wrapf annotates err with op context without classifying it.
// Returns nil when err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsConcurrencyConflict reports whether err is a version mismatch.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsDuplicateKey reports whether err is a classified unique violation.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
