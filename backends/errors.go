// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds reported by backends and by the native interoperability functions.
//
// They are returned wrapped with context (and a stack), test for them with errors.Is.
var (
	// ErrIncompatibleContext is returned when a Context doesn't contain the device implied by a native handle.
	ErrIncompatibleContext = errors.New("incompatible context")

	// ErrWrongBackend is returned when an object is used with a backend other than the one that created it.
	ErrWrongBackend = errors.New("object belongs to a different backend")

	// ErrNoNativeBacking is returned when asking for the native handle of an Event that has none.
	ErrNoNativeBacking = errors.New("event has no native backing")

	// ErrInvalidNativeHandle is returned when the native driver rejects a handle as malformed or destroyed.
	ErrInvalidNativeHandle = errors.New("invalid native handle")

	// ErrDriver is the kind of any other failure reported by a native driver.
	ErrDriver = errors.New("native driver failure")

	// ErrNotImplemented is returned by backends for features they don't support.
	ErrNotImplemented = errors.New("not implemented")

	// ErrReleased is returned when using an object after Release.
	ErrReleased = errors.New("object already released")
)

// DriverError reports a non-success status from a native driver call.
//
// It matches both its Kind (ErrInvalidNativeHandle or ErrDriver) and the driver's own error with
// errors.Is/errors.As, so callers can branch on the kind and still inspect the native status code.
type DriverError struct {
	// Backend is the name of the backend that made the call.
	Backend string

	// Kind is ErrInvalidNativeHandle or ErrDriver.
	Kind error

	// Op describes the operation that failed.
	Op string

	// Err is the error returned by the driver.
	Err error
}

// Error implements error.
func (e *DriverError) Error() string {
	return fmt.Sprintf("backend %q: %s: %v: %v", e.Backend, e.Op, e.Kind, e.Err)
}

// Unwrap returns the kind and the driver error.
func (e *DriverError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewDriverError wraps a driver error. If err is nil it returns nil.
//
// invalidHandle should be true when the driver rejected one of the handles given to it, it selects the
// ErrInvalidNativeHandle kind. Otherwise, the kind is ErrDriver.
func NewDriverError(backend string, invalidHandle bool, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	kind := ErrDriver
	if invalidHandle {
		kind = ErrInvalidNativeHandle
	}
	return &DriverError{Backend: backend, Kind: kind, Op: fmt.Sprintf(format, args...), Err: err}
}

// wrongBackendf returns ErrWrongBackend with a message describing the mismatch.
func wrongBackendf(format string, args ...any) error {
	return errors.Wrapf(ErrWrongBackend, format, args...)
}

// PanicError converts a recovered panic value into an error, keeping the original error if it was one.
func PanicError(exception any, format string, args ...any) error {
	if err, ok := exception.(error); ok {
		return errors.WithMessagef(err, "panic in "+format, args...)
	}
	return errors.Errorf("panic in %s: %v", fmt.Sprintf(format, args...), exception)
}
