// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// QueueBacking is implemented by backends to execute the commands of a Queue.
type QueueBacking interface {
	// Launch enqueues the kernel and returns the backing of the event tracking its completion.
	Launch(kernel Kernel) (EventBacking, error)

	// Synchronize blocks until everything launched so far has completed.
	Synchronize() error

	// Release frees the native resources owned by the queue. Native resources the queue doesn't own (e.g.
	// a native stream wrapped by the interop functions) must be left untouched.
	// It is called at most once.
	Release() error
}

// Queue is an ordered submission channel bound to one Context and one Device.
//
// Commands run in the order they are submitted. Submit can be called concurrently, the order between
// concurrent submissions is the order in which they acquire the queue.
type Queue struct {
	context *Context
	device  Device
	backing QueueBacking

	// ownsContext is set when the queue created its own context (see NewQueueForDevice).
	ownsContext bool

	mu         sync.Mutex
	released   bool
	releaseErr error
}

// NewQueueWithBacking is used by backend implementations to create a Queue.
func NewQueueWithBacking(ctx *Context, device Device, backing QueueBacking) (*Queue, error) {
	if err := ctx.checkUsable(); err != nil {
		return nil, err
	}
	if !ctx.Contains(device) {
		return nil, errors.Wrapf(ErrIncompatibleContext, "device %s is not part of %s", device, ctx)
	}
	return &Queue{context: ctx, device: device, backing: backing}, nil
}

// NewQueueForDevice creates a Queue for device with a new context spanning only that device.
// The context is owned by the queue and released with it.
func NewQueueForDevice(device Device) (*Queue, error) {
	if !device.IsValid() {
		return nil, errors.New("NewQueueForDevice() given an invalid device")
	}
	backend := device.Backend()
	ctx, err := backend.NewContext(device)
	if err != nil {
		return nil, err
	}
	q, err := backend.NewQueue(ctx, device)
	if err != nil {
		if releaseErr := ctx.Release(); releaseErr != nil {
			klog.Warningf("failed to release context %s: %+v", ctx, releaseErr)
		}
		return nil, err
	}
	q.ownsContext = true
	return q, nil
}

// DefaultQueue creates a Queue on ctx for the first device of the context.
func DefaultQueue(ctx *Context) (*Queue, error) {
	if ctx.NumDevices() == 0 {
		return nil, errors.Errorf("context %s has no devices", ctx)
	}
	return ctx.Backend().NewQueue(ctx, ctx.devices[0])
}

// Backend of the queue.
func (q *Queue) Backend() Backend { return q.context.Backend() }

// Context the queue is bound to.
func (q *Queue) Context() *Context { return q.context }

// Device the queue submits to.
func (q *Queue) Device() Device { return q.device }

// Backing returns the backend specific state of the queue.
func (q *Queue) Backing() QueueBacking { return q.backing }

// Submit a command to the queue.
//
// The returned error reports failures to submit, errors of the command itself are returned by Event.Wait.
//
// A HostTask runs on the calling goroutine once the work submitted before it completes. The queue is not
// held while it runs, so the task can submit to the same queue.
func (q *Queue) Submit(cmd Command) (*Event, error) {
	switch c := cmd.(type) {
	case Kernel:
		if c.Range < 0 || c.Body == nil {
			return nil, errors.Errorf("invalid kernel %q: range=%d, body set=%v", c.Name, c.Range, c.Body != nil)
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.released {
			return nil, errors.Wrapf(ErrReleased, "submitting %q to %s", c.Name, q)
		}
		backing, err := q.backing.Launch(c)
		if err != nil {
			return nil, errors.WithMessagef(err, "launching kernel %q", c.Name)
		}
		return NewEventWithBacking(q.Backend(), c.Name, backing), nil

	case HostTask:
		if err := q.drainForHostTask(c); err != nil {
			return nil, err
		}
		return NewCompletedEvent(q.Backend(), c.Name, runHostTask(c)), nil

	default:
		return nil, errors.Errorf("unknown command type %T submitted to %s", cmd, q)
	}
}

// drainForHostTask waits for all work submitted before task.
func (q *Queue) drainForHostTask(task HostTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return errors.Wrapf(ErrReleased, "submitting %q to %s", task.Name, q)
	}
	if err := q.backing.Synchronize(); err != nil {
		return errors.WithMessagef(err, "waiting for work before host task %q", task.Name)
	}
	return nil
}

// runHostTask runs the task, converting panics to errors.
func runHostTask(task HostTask) (err error) {
	if task.Fn == nil {
		return nil
	}
	exception := exceptions.Try(func() { err = task.Fn() })
	if exception != nil {
		return PanicError(exception, "host task %q", task.Name)
	}
	return err
}

// ParallelFor submits a Kernel calling body for every index in [0, n).
func (q *Queue) ParallelFor(name string, n int, body func(i int)) (*Event, error) {
	return q.Submit(Kernel{Name: name, Range: n, Body: body})
}

// HostTask submits fn to run on the host after all work previously submitted completes.
func (q *Queue) HostTask(name string, fn func() error) (*Event, error) {
	return q.Submit(HostTask{Name: name, Fn: fn})
}

// Wait blocks until all work submitted so far completes.
func (q *Queue) Wait() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return errors.Wrapf(ErrReleased, "waiting on %s", q)
	}
	return q.backing.Synchronize()
}

// Release waits for the submitted work and frees the native resources owned by the queue -- and its context,
// if it was created by NewQueueForDevice. Only the first call has an effect, later calls return the same
// result.
func (q *Queue) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return q.releaseErr
	}
	q.released = true
	var firstErr error
	if err := q.backing.Synchronize(); err != nil {
		klog.Warningf("error waiting for %s before releasing it: %+v", q, err)
	}
	if err := q.backing.Release(); err != nil {
		firstErr = err
	}
	if q.ownsContext {
		if err := q.context.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	q.releaseErr = firstErr
	return firstErr
}

// String implements fmt.Stringer.
func (q *Queue) String() string {
	return fmt.Sprintf("<Queue backend=%s device=%s context=%s>", q.Backend().Name(), q.device, q.context.ID())
}
