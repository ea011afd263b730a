// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cudasim

import (
	"fmt"
	"sync"

	"github.com/gomlx/interop/pkg/cuda"
	"github.com/gomlx/interop/pkg/support/xsync"
)

// streamQueueSize is the number of operations a stream buffers before enqueueing blocks.
const streamQueueSize = 256

// stream executes its operations in order, in its own goroutine.
type stream struct {
	handle cuda.Stream
	ctx    cuda.Context

	// mu guards closed and sends on ops; it may be held while blocked on a full queue.
	mu     sync.Mutex
	closed bool
	ops    chan func()
	done   *xsync.Latch

	// failure is the sticky error of a kernel that panicked: all later synchronizations report it.
	failureMu sync.Mutex
	failure   error
}

func newStream(handle cuda.Stream, ctx cuda.Context) *stream {
	s := &stream{
		handle: handle,
		ctx:    ctx,
		ops:    make(chan func(), streamQueueSize),
		done:   xsync.NewLatch(),
	}
	go s.run()
	return s
}

func (s *stream) run() {
	defer s.done.Trigger()
	for op := range s.ops {
		op()
	}
}

// enqueue appends op to the stream. It returns false if the stream was already destroyed.
func (s *stream) enqueue(op func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ops <- op
	return true
}

// enqueueRecord enqueues a record of e. The record is only counted if the stream still accepts
// operations, so a failed record leaves the event's status unchanged.
func (s *stream) enqueueRecord(e *event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ops <- e.record()
	return true
}

// launch enqueues a kernel. A panic in body becomes the stream's sticky error, and the remaining indices are
// skipped.
func (s *stream) launch(n int, body func(i int)) bool {
	return s.enqueue(func() {
		defer func() {
			if r := recover(); r != nil {
				s.failureMu.Lock()
				if s.failure == nil {
					s.failure = fmt.Errorf("kernel panicked: %v", r)
				}
				s.failureMu.Unlock()
			}
		}()
		if s.stickyError() != nil {
			return
		}
		for i := range n {
			body(i)
		}
	})
}

func (s *stream) stickyError() error {
	s.failureMu.Lock()
	defer s.failureMu.Unlock()
	return s.failure
}

// synchronize blocks until all operations enqueued so far are executed.
func (s *stream) synchronize() (ok bool, failure error) {
	latch := xsync.NewLatch()
	if !s.enqueue(latch.Trigger) {
		return false, nil
	}
	latch.Wait()
	return true, s.stickyError()
}

// close stops accepting operations. Pending operations are still executed.
func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ops)
}

// event tracks how many times it was recorded and how many of those records were reached by its stream.
type event struct {
	handle cuda.Event
	ctx    cuda.Context
	flags  cuda.EventFlags

	mu        sync.Mutex
	cond      *sync.Cond
	recorded  uint64
	completed uint64
}

func newEvent(handle cuda.Event, ctx cuda.Context, flags cuda.EventFlags) *event {
	e := &event{handle: handle, ctx: ctx, flags: flags}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// record counts a new record and returns the operation that marks it as complete.
func (e *event) record() func() {
	e.mu.Lock()
	e.recorded++
	target := e.recorded
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		if target > e.completed {
			e.completed = target
		}
		e.mu.Unlock()
		e.cond.Broadcast()
	}
}

func (e *event) isComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed >= e.recorded
}

func (e *event) wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.completed < e.recorded {
		e.cond.Wait()
	}
}
