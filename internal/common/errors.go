// Package common defines the error taxonomy shared by the queue, the remote
// stores and the reconcilers. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrorNotFound is returned by repositories and remote stores when the
	// requested record does not exist. Reconcilers treat it as success
	// during idempotent retries.
	ErrorNotFound = errors.New("not found")

	// ErrTransient marks network or remote failures. Queued work is never
	// discarded because of it; the next run retries.
	ErrTransient = errors.New("transient failure")

	// ErrStorageFull is returned when the local queue cannot be written.
	ErrStorageFull = errors.New("local storage full")

	// ErrMalformed marks input that cannot be interpreted, e.g. a blob
	// reference that does not map to a deletable path.
	ErrMalformed = errors.New("malformed")

	// ErrValidation is returned by the enqueue API for missing fields.
	ErrValidation = errors.New("validation error")

	// ErrBusy is returned when a single-instance pass is already running.
	ErrBusy = errors.New("already running")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so that errors.Is(err, ErrTransient) holds while the
// original cause stays reachable. Nil and already-transient errors are
// returned unchanged.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

// Malformedf builds an ErrMalformed error with a formatted description.
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err means "the thing is already gone".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrorNotFound)
}
