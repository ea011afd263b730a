// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/interop/backends"
	"github.com/gomlx/interop/pkg/support/xsync"
	"github.com/pkg/errors"
)

// queue runs its kernels in order in a dedicated goroutine, each kernel spread over the backend's pool.
type queue struct {
	backend *Backend
	ops     chan func()

	mu     sync.Mutex
	closed bool
}

func newQueue(b *Backend) *queue {
	q := &queue{backend: b, ops: make(chan func(), 64)}
	go func() {
		for op := range q.ops {
			op()
		}
	}()
	return q
}

func (q *queue) enqueue(op func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrapf(backends.ErrReleased, "backend %q queue", BackendName)
	}
	q.ops <- op
	return nil
}

// Launch implements backends.QueueBacking.
func (q *queue) Launch(kernel backends.Kernel) (backends.EventBacking, error) {
	event := &hostEvent{done: xsync.NewLatch()}
	err := q.enqueue(func() {
		defer event.done.Trigger()
		if exception := q.backend.pool.ParallelFor(kernel.Range, kernel.Body); exception != nil {
			event.err = backends.PanicError(exception, "kernel %q", kernel.Name)
		}
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Synchronize implements backends.QueueBacking.
func (q *queue) Synchronize() error {
	latch := xsync.NewLatch()
	if err := q.enqueue(latch.Trigger); err != nil {
		return err
	}
	latch.Wait()
	return nil
}

// Release implements backends.QueueBacking. Pending kernels still run.
func (q *queue) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	return nil
}

// hostEvent is completed by the queue goroutine. err is only read after done is triggered.
type hostEvent struct {
	done *xsync.Latch
	err  error
}

// HasNative implements backends.EventBacking: host events are never native.
func (e *hostEvent) HasNative() bool { return false }

// Wait implements backends.EventBacking.
func (e *hostEvent) Wait() error {
	e.done.Wait()
	return e.err
}

// Query implements backends.EventBacking.
func (e *hostEvent) Query() (bool, error) {
	if !e.done.Test() {
		return false, nil
	}
	return true, e.err
}

// Release implements backends.EventBacking.
func (e *hostEvent) Release() error { return nil }
