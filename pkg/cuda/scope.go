// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"runtime"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scope pins the calling goroutine to its OS thread and remembers the driver's current context, so it
// can be restored when the Scope is closed.
//
// The driver's current context is thread-local state. A Scope is the only way this layer changes it:
//
//	scope, err := cuda.EnterScope(drv)
//	if err != nil {
//		return err
//	}
//	defer scope.Close()
//	if err := scope.Activate(ctx); err != nil {
//		return err
//	}
//
// A Scope must be closed on the same goroutine that created it, and it is not safe for concurrent use.
type Scope struct {
	drv    Driver
	prev   Context
	closed bool
}

// EnterScope locks the calling goroutine to its OS thread and records the current context.
func EnterScope(drv Driver) (*Scope, error) {
	runtime.LockOSThread()
	prev, err := drv.CtxGetCurrent()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, errors.WithMessage(err, "saving current context")
	}
	return &Scope{drv: drv, prev: prev}, nil
}

// Activate makes ctx the current context of the pinned thread.
// It can be called any number of times within the scope.
func (s *Scope) Activate(ctx Context) error {
	if s.closed {
		return errors.New("cuda.Scope.Activate called on a closed scope")
	}
	if err := s.drv.CtxSetCurrent(ctx); err != nil {
		return errors.WithMessagef(err, "activating %s", ctx)
	}
	return nil
}

// Previous returns the context that was current when the scope was entered.
func (s *Scope) Previous() Context {
	return s.prev
}

// Close restores the context that was current when the scope was entered and unpins the goroutine.
// It is idempotent.
//
// If restoring fails, the error is returned but the goroutine is unpinned anyway.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer runtime.UnlockOSThread()
	if err := s.drv.CtxSetCurrent(s.prev); err != nil {
		klog.Warningf("cuda: failed to restore current context %s: %+v", s.prev, err)
		return errors.WithMessagef(err, "restoring current context %s", s.prev)
	}
	return nil
}

// WithCurrent runs fn with ctx current on the calling thread and restores the previous current context
// afterwards, whether fn fails or not.
//
// An error from fn takes precedence over an error restoring the previous context.
func WithCurrent(drv Driver, ctx Context, fn func() error) (err error) {
	scope, err := EnterScope(drv)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := scope.Close()
		if err == nil {
			err = closeErr
		}
	}()
	if err = scope.Activate(ctx); err != nil {
		return err
	}
	return fn()
}
