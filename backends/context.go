// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/interop/pkg/support/sets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ContextBacking holds the native state of a Context, it is implemented by backends.
type ContextBacking interface {
	// Release frees the native resources held for the context. It is called at most once.
	Release() error
}

// Context is a logical grouping of one or more devices of the same backend.
//
// A backend may need more than one native object to represent it: the cuda backend, for instance, holds one
// native context per device. That is the job of the ContextBacking.
type Context struct {
	backend Backend
	id      string
	devices []Device
	backing ContextBacking

	mu         sync.Mutex
	released   bool
	releaseErr error
}

// NewContextWithBacking is used by backend implementations to create a Context.
//
// The devices must be non-empty, unique and belong to backend.
func NewContextWithBacking(backend Backend, devices []Device, backing ContextBacking) (*Context, error) {
	if len(devices) == 0 {
		return nil, errors.Errorf("backend %q: a context requires at least one device", backend.Name())
	}
	seen := sets.Make[Device](len(devices))
	for _, device := range devices {
		if device.Backend() != backend {
			return nil, wrongBackendf("backend %q: can't create a context with device %s", backend.Name(), device)
		}
		if seen.Has(device) {
			return nil, errors.Errorf("backend %q: device %s given more than once for context", backend.Name(), device)
		}
		seen.Insert(device)
	}
	return &Context{
		backend: backend,
		id:      uuid.NewString(),
		devices: slices.Clone(devices),
		backing: backing,
	}, nil
}

// Backend that created the context.
func (c *Context) Backend() Backend { return c.backend }

// ID uniquely identifies the context within the process.
func (c *Context) ID() string { return c.id }

// Devices returns the devices spanned by the context, in the order given at creation.
func (c *Context) Devices() []Device { return slices.Clone(c.devices) }

// NumDevices returns the number of devices spanned by the context.
func (c *Context) NumDevices() int { return len(c.devices) }

// DeviceIndex returns the position of device in Devices, or -1 if it's not part of the context.
func (c *Context) DeviceIndex(device Device) int {
	return slices.Index(c.devices, device)
}

// Contains returns whether device is part of the context.
func (c *Context) Contains(device Device) bool {
	return c.DeviceIndex(device) >= 0
}

// Backing returns the backend specific state of the context.
func (c *Context) Backing() ContextBacking { return c.backing }

// IsReleased returns whether Release has been called.
func (c *Context) IsReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Release frees the native resources owned by the context. Only the first call has an effect, later calls
// return the same result.
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return c.releaseErr
	}
	c.released = true
	if c.backing != nil {
		c.releaseErr = c.backing.Release()
	}
	return c.releaseErr
}

// checkUsable returns ErrReleased if the context was released.
func (c *Context) checkUsable() error {
	if c.IsReleased() {
		return errors.Wrapf(ErrReleased, "%s", c)
	}
	return nil
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("<Context backend=%s id=%s devices=%v>", c.backend.Name(), c.id, c.devices)
}
