// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/interop/backends"
	cu "github.com/gomlx/interop/pkg/cuda"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// queueBacking submits work to a native stream.
type queueBacking struct {
	backend *Backend
	ctx     cu.Context
	stream  cu.Stream

	// owned is true if the stream was created by the backend, and must be destroyed with the queue.
	owned bool
}

// NewQueue creates a Queue with a new native stream in device's context. The stream is owned by the queue.
func (b *Backend) NewQueue(ctx *backends.Context, device backends.Device) (*backends.Queue, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	ctxBacking, err := b.contextBackingOf(ctx)
	if err != nil {
		return nil, err
	}
	idx := ctx.DeviceIndex(device)
	if idx < 0 {
		return nil, errors.Wrapf(backends.ErrIncompatibleContext, "device %s is not part of %s", device, ctx)
	}
	native := ctxBacking.nativeFor(idx)
	var stream cu.Stream
	err = cu.WithCurrent(b.driver, native, func() error {
		var err error
		stream, err = b.driver.StreamCreate(cu.StreamDefault)
		return err
	})
	if err != nil {
		return nil, driverError(err, "creating stream in %s", native)
	}
	backing := &queueBacking{backend: b, ctx: native, stream: stream, owned: true}
	q, err := backends.NewQueueWithBacking(ctx, device, backing)
	if err != nil {
		_ = backing.Release()
		return nil, err
	}
	klog.V(1).Infof("cuda: created %s on owned %s", q, stream)
	return q, nil
}

// Launch implements backends.QueueBacking: it launches the kernel and records an owned native event after it.
func (q *queueBacking) Launch(kernel backends.Kernel) (backends.EventBacking, error) {
	drv := q.backend.driver
	event := &eventBacking{backend: q.backend, owned: true}
	body := kernel.Body
	wrapped := func(i int) {
		if event.failed() {
			return
		}
		if exception := exceptions.Try(func() { body(i) }); exception != nil {
			event.fail(backends.PanicError(exception, "kernel %q at index %d", kernel.Name, i))
		}
	}
	err := cu.WithCurrent(drv, q.ctx, func() error {
		if err := drv.LaunchKernel(q.stream, kernel.Range, wrapped); err != nil {
			return err
		}
		native, err := drv.EventCreate(cu.EventDisableTiming)
		if err != nil {
			return err
		}
		event.event = native
		if err := drv.EventRecord(native, q.stream); err != nil {
			if destroyErr := drv.EventDestroy(native); destroyErr != nil {
				klog.Warningf("cuda: failed to destroy %s: %+v", native, destroyErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, driverError(err, "launching kernel %q on %s", kernel.Name, q.stream)
	}
	return event, nil
}

// Synchronize implements backends.QueueBacking.
func (q *queueBacking) Synchronize() error {
	drv := q.backend.driver
	err := cu.WithCurrent(drv, q.ctx, func() error {
		return drv.StreamSynchronize(q.stream)
	})
	return driverError(err, "synchronizing %s", q.stream)
}

// Release implements backends.QueueBacking: only owned streams are destroyed.
func (q *queueBacking) Release() error {
	if !q.owned {
		return nil
	}
	drv := q.backend.driver
	err := cu.WithCurrent(drv, q.ctx, func() error {
		return drv.StreamDestroy(q.stream)
	})
	return driverError(err, "destroying %s", q.stream)
}

// eventBacking tracks a native event.
type eventBacking struct {
	backend *Backend
	event   cu.Event

	// owned is true if the event was created by the backend, and must be destroyed with the abstract Event.
	owned bool

	mu sync.Mutex
	// failure holds the first panic of the kernel that recorded the event.
	failure error
}

func (e *eventBacking) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure == nil {
		e.failure = err
	}
}

func (e *eventBacking) failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure != nil
}

// HasNative implements backends.EventBacking.
func (e *eventBacking) HasNative() bool { return true }

// Wait implements backends.EventBacking.
func (e *eventBacking) Wait() error {
	if err := e.backend.driver.EventSynchronize(e.event); err != nil {
		return driverError(err, "synchronizing %s", e.event)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Query implements backends.EventBacking.
func (e *eventBacking) Query() (bool, error) {
	err := e.backend.driver.EventQuery(e.event)
	if cu.IsNotReady(err) {
		return false, nil
	}
	if err != nil {
		return false, driverError(err, "querying %s", e.event)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return true, e.failure
}

// Release implements backends.EventBacking: only owned events are destroyed.
func (e *eventBacking) Release() error {
	if !e.owned {
		return nil
	}
	return driverError(e.backend.driver.EventDestroy(e.event), "destroying %s", e.event)
}
