// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"github.com/gomlx/interop/backends"
	cu "github.com/gomlx/interop/pkg/cuda"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MakeDevice returns the abstract Device for a native device handle.
//
// The handle is not validated: devices made from equal handles compare equal, and NativeDevice returns the
// handle given.
func MakeDevice(b *Backend, dev cu.Device) backends.Device {
	return backends.NewDevice(b, dev)
}

// MakeQueue wraps an existing native stream (which may be the null stream) into a Queue of ctx.
//
// The queue's device is the one whose native context in ctx is the stream's context. If no device of ctx is
// bound to the stream's context, it fails with backends.ErrIncompatibleContext.
//
// The stream is not owned by the queue: releasing the queue leaves the stream alive, and the caller remains
// responsible for destroying it (after the queue is no longer used).
func MakeQueue(b *Backend, stream cu.Stream, ctx *backends.Context) (*backends.Queue, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	ctxBacking, err := b.contextBackingOf(ctx)
	if err != nil {
		return nil, err
	}
	drv := b.driver
	streamCtx, err := drv.StreamGetCtx(stream)
	if err != nil {
		return nil, driverError(err, "getting context of %s", stream)
	}
	dev, err := cu.DeviceOfContext(drv, streamCtx)
	if err != nil {
		return nil, driverError(err, "getting device of %s (context of %s)", streamCtx, stream)
	}
	resolved, found, err := cu.ResolveContextForDevice(drv, dev, ctxBacking.natives)
	if err != nil {
		return nil, driverError(err, "resolving native context of %s for %s", dev, stream)
	}
	if !found || resolved != streamCtx {
		return nil, errors.Wrapf(backends.ErrIncompatibleContext,
			"%s belongs to %s on %s, which is not one of the native contexts %v of %s",
			stream, streamCtx, dev, ctxBacking.natives, ctx)
	}
	backing := &queueBacking{backend: b, ctx: streamCtx, stream: stream, owned: false}
	q, err := backends.NewQueueWithBacking(ctx, MakeDevice(b, dev), backing)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("cuda: wrapped %s into %s", stream, q)
	return q, nil
}

// MakeEvent wraps an existing native event into an Event with native backing.
//
// The driver is asked about the event's status, so destroyed or malformed handles fail with
// backends.ErrInvalidNativeHandle. The event is not owned: releasing the abstract Event leaves it alive.
func MakeEvent(b *Backend, event cu.Event, ctx *backends.Context) (*backends.Event, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	if _, err := b.contextBackingOf(ctx); err != nil {
		return nil, err
	}
	if err := b.driver.EventQuery(event); err != nil && !cu.IsNotReady(err) {
		return nil, driverError(err, "validating %s", event)
	}
	return backends.NewEventWithBacking(b, "interop", &eventBacking{backend: b, event: event, owned: false}), nil
}

// NativeDevice returns the native handle of a device of the cuda backend.
func NativeDevice(device backends.Device) (cu.Device, error) {
	if _, err := asBackend(device.Backend(), device.String()); err != nil {
		return 0, err
	}
	dev, ok := device.Handle().(cu.Device)
	if !ok {
		return 0, errors.Wrapf(backends.ErrWrongBackend, "device %s doesn't hold a CUdevice", device)
	}
	return dev, nil
}

// NativeContext returns the native contexts of ctx, one per device, in the order of ctx.Devices().
func NativeContext(ctx *backends.Context) ([]cu.Context, error) {
	b, err := asBackend(ctx.Backend(), ctx.String())
	if err != nil {
		return nil, err
	}
	backing, err := b.contextBackingOf(ctx)
	if err != nil {
		return nil, err
	}
	return backing.nativesCopy(), nil
}

// NativeQueue returns the native stream of a queue of the cuda backend.
func NativeQueue(q *backends.Queue) (cu.Stream, error) {
	if _, err := asBackend(q.Backend(), q.String()); err != nil {
		return 0, err
	}
	backing, ok := q.Backing().(*queueBacking)
	if !ok {
		return 0, errors.Wrapf(backends.ErrWrongBackend, "%s has no cuda backing", q)
	}
	return backing.stream, nil
}

// NativeEvent returns the native event of an Event of the cuda backend.
//
// It fails with backends.ErrNoNativeBacking if the event has no native backing, e.g. if it was produced by a
// host task.
func NativeEvent(e *backends.Event) (cu.Event, error) {
	if _, err := asBackend(e.Backend(), e.String()); err != nil {
		return 0, err
	}
	if !e.HasNativeBacking() {
		return 0, errors.Wrapf(backends.ErrNoNativeBacking, "%s", e)
	}
	backing, ok := e.Backing().(*eventBacking)
	if !ok {
		return 0, errors.Wrapf(backends.ErrWrongBackend, "%s has no cuda backing", e)
	}
	return backing.event, nil
}

// HasNativeEvent reports whether e is an Event of the cuda backend backed by a native CUDA event.
//
// Events of device kernels have native backing, events of host tasks don't. The answer is fixed when the event
// is created, so calling it has no side effects.
func HasNativeEvent(e *backends.Event) bool {
	if _, ok := e.Backend().(*Backend); !ok {
		return false
	}
	return e.HasNativeBacking()
}

// ContextForDevice returns the native context of ctx bound to device.
//
// It fails with backends.ErrIncompatibleContext if device is not part of ctx.
func ContextForDevice(ctx *backends.Context, device backends.Device) (cu.Context, error) {
	b, err := asBackend(ctx.Backend(), ctx.String())
	if err != nil {
		return 0, err
	}
	backing, err := b.contextBackingOf(ctx)
	if err != nil {
		return 0, err
	}
	dev, err := NativeDevice(device)
	if err != nil {
		return 0, err
	}
	native, found, err := cu.ResolveContextForDevice(b.driver, dev, backing.natives)
	if err != nil {
		return 0, driverError(err, "resolving native context of %s", dev)
	}
	if !found {
		return 0, errors.Wrapf(backends.ErrIncompatibleContext, "no native context of %s is bound to %s", ctx, dev)
	}
	return native, nil
}
