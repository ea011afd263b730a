// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// EventBacking is implemented by backends to track the completion of a device-executed command.
type EventBacking interface {
	// HasNative returns whether the backing is a native synchronization primitive.
	// It must always return the same value.
	HasNative() bool

	// Wait blocks until the command completes, and returns its error if any.
	Wait() error

	// Query returns whether the command completed, without blocking.
	Query() (bool, error)

	// Release frees native resources owned by the backing. It is called at most once.
	Release() error
}

// Event represents the completion of something submitted to a Queue.
//
// Events of device-executed commands are usually backed by a native synchronization primitive (see
// HasNativeBacking), events of host-executed tasks never are.
type Event struct {
	backend Backend
	name    string
	backing EventBacking

	// hasNativeBacking is fixed at creation.
	hasNativeBacking bool

	// hostErr is the result of a host task, for events without backing.
	hostErr error

	mu         sync.Mutex
	released   bool
	releaseErr error
}

// NewEventWithBacking is used by backend implementations to create an Event tracked by backing.
func NewEventWithBacking(backend Backend, name string, backing EventBacking) *Event {
	return &Event{
		backend:          backend,
		name:             name,
		backing:          backing,
		hasNativeBacking: backing != nil && backing.HasNative(),
	}
}

// NewCompletedEvent returns an Event without backing that is already complete, with the given result.
func NewCompletedEvent(backend Backend, name string, err error) *Event {
	return &Event{backend: backend, name: name, hostErr: err}
}

// Backend that created the event.
func (e *Event) Backend() Backend { return e.backend }

// Name of the command that generated the event.
func (e *Event) Name() string { return e.name }

// HasNativeBacking returns whether the event wraps a native synchronization primitive.
// It is decided when the event is created, and it doesn't change.
func (e *Event) HasNativeBacking() bool { return e.hasNativeBacking }

// Backing returns the backend specific state of the event, or nil for events without backing.
func (e *Event) Backing() EventBacking { return e.backing }

func (e *Event) checkUsable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errors.Wrapf(ErrReleased, "%s", e)
	}
	return nil
}

// Wait blocks until the event completes, and returns the error of the command, if any.
func (e *Event) Wait() error {
	if err := e.checkUsable(); err != nil {
		return err
	}
	if e.backing == nil {
		return e.hostErr
	}
	return e.backing.Wait()
}

// Query returns whether the event completed, without blocking.
func (e *Event) Query() (bool, error) {
	if err := e.checkUsable(); err != nil {
		return false, err
	}
	if e.backing == nil {
		return true, e.hostErr
	}
	return e.backing.Query()
}

// Release frees the native resources owned by the event, if any. Only the first call has an effect, later
// calls return the same result.
func (e *Event) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return e.releaseErr
	}
	e.released = true
	if e.backing != nil {
		e.releaseErr = e.backing.Release()
	}
	return e.releaseErr
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	return fmt.Sprintf("<Event backend=%s command=%q native=%v>", e.backend.Name(), e.name, e.hasNativeBacking)
}
