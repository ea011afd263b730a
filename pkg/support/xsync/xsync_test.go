// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())

	var released atomic.Int32
	for range 3 {
		go func() {
			l.Wait()
			released.Add(1)
		}()
	}
	l.Trigger()
	l.Trigger() // Triggering twice is a no-op.
	select {
	case <-l.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("latch not released")
	}
	assert.True(t, l.Test())
	require.Eventually(t, func() bool { return released.Load() == 3 }, time.Second, time.Millisecond)
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Zero count doesn't block.

	wg.Add(1)
	var done atomic.Bool
	go func() {
		// Add more work while the first is still pending.
		wg.Add(1)
		go func() {
			done.Store(true)
			wg.Done()
		}()
		wg.Done()
	}()
	wg.Wait()
	assert.True(t, done.Load())
	assert.Panics(t, func() { wg.Done() })
}
