// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/gomlx/exceptions"
)

// DynamicWaitGroup counts pending tasks, like sync.WaitGroup, except that tasks can be added while
// another goroutine is blocked in Wait.
type DynamicWaitGroup struct {
	mu      sync.Mutex
	pending int

	// idle is closed whenever pending is 0, and replaced when it becomes positive again.
	idle chan struct{}
}

// NewDynamicWaitGroup creates a DynamicWaitGroup with no pending tasks.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	wg := &DynamicWaitGroup{idle: make(chan struct{})}
	close(wg.idle)
	return wg
}

// Add delta to the number of pending tasks. It panics if the count becomes negative.
func (wg *DynamicWaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	before := wg.pending
	wg.pending += delta
	switch {
	case wg.pending < 0:
		wg.pending = before
		exceptions.Panicf("xsync.DynamicWaitGroup: negative count (%d%+d)", before, delta)
	case before == 0 && wg.pending > 0:
		wg.idle = make(chan struct{})
	case before > 0 && wg.pending == 0:
		close(wg.idle)
	}
}

// Done marks one task as finished.
func (wg *DynamicWaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks until there are no pending tasks.
func (wg *DynamicWaitGroup) Wait() {
	for {
		wg.mu.Lock()
		if wg.pending == 0 {
			wg.mu.Unlock()
			return
		}
		idle := wg.idle
		wg.mu.Unlock()
		<-idle
	}
}
