// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"slices"

	"github.com/gomlx/interop/backends"
	cu "github.com/gomlx/interop/pkg/cuda"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// contextBacking holds one retained primary context per device of a backends.Context, in device order.
type contextBacking struct {
	backend *Backend
	devices []cu.Device
	natives []cu.Context
}

// NewContext creates a Context spanning the given devices, retaining each device's primary context.
// With no devices, the context spans all devices.
func (b *Backend) NewContext(devices ...backends.Device) (*backends.Context, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		var err error
		devices, err = b.Devices()
		if err != nil {
			return nil, err
		}
	}
	backing := &contextBacking{backend: b}
	for _, device := range devices {
		if err := b.checkSameBackend(device.Backend(), device.String()); err != nil {
			backing.releaseRetained()
			return nil, err
		}
		dev := device.Handle().(cu.Device)
		native, err := b.driver.DevicePrimaryCtxRetain(dev)
		if err != nil {
			backing.releaseRetained()
			return nil, driverError(err, "retaining primary context of %s", dev)
		}
		backing.devices = append(backing.devices, dev)
		backing.natives = append(backing.natives, native)
	}
	ctx, err := backends.NewContextWithBacking(b, devices, backing)
	if err != nil {
		backing.releaseRetained()
		return nil, err
	}
	klog.V(1).Infof("cuda: created %s with native contexts %v", ctx, backing.natives)
	return ctx, nil
}

// releaseRetained releases the primary contexts retained so far, logging failures.
func (c *contextBacking) releaseRetained() {
	for _, dev := range c.devices {
		if err := c.backend.driver.DevicePrimaryCtxRelease(dev); err != nil {
			klog.Warningf("cuda: failed to release primary context of %s: %+v", dev, err)
		}
	}
	c.devices, c.natives = nil, nil
}

// Release implements backends.ContextBacking. Every primary context is released once, the first error is
// returned.
func (c *contextBacking) Release() error {
	var firstErr error
	for _, dev := range c.devices {
		if err := c.backend.driver.DevicePrimaryCtxRelease(dev); err != nil && firstErr == nil {
			firstErr = driverError(err, "releasing primary context of %s", dev)
		}
	}
	return firstErr
}

// nativeFor returns the native context of the device at position idx.
func (c *contextBacking) nativeFor(idx int) cu.Context {
	return c.natives[idx]
}

// contextBackingOf returns the backing of a context created by b.
func (b *Backend) contextBackingOf(ctx *backends.Context) (*contextBacking, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	if err := b.checkSameBackend(ctx.Backend(), ctx.String()); err != nil {
		return nil, err
	}
	if ctx.IsReleased() {
		return nil, errors.Wrapf(backends.ErrReleased, "%s", ctx)
	}
	backing, ok := ctx.Backing().(*contextBacking)
	if !ok {
		return nil, errors.Wrapf(backends.ErrWrongBackend, "%s has no cuda backing", ctx)
	}
	return backing, nil
}

// nativesCopy returns a copy of the native contexts.
func (c *contextBacking) nativesCopy() []cu.Context {
	return slices.Clone(c.natives)
}
