// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import "sync"

// Latch is a one-time signal: it starts untriggered, and once triggered it stays triggered, releasing
// everyone waiting on it.
type Latch struct {
	once sync.Once
	wait chan struct{}
}

// NewLatch returns an untriggered Latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// Trigger the latch. It is safe to call it more than once, or concurrently.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.wait) })
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// WaitChan returns a channel that is closed when the latch is triggered.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// Test reports whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}
