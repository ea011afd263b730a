// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/interop/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WaitToStart(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(2)

	var count atomic.Int32
	done := xsync.NewDynamicWaitGroup()
	for range 10 {
		done.Add(1)
		pool.WaitToStart(func() {
			count.Add(1)
			done.Done()
		})
	}
	finished := xsync.NewLatch()
	go func() {
		done.Wait()
		finished.Trigger()
	}()
	select {
	case <-finished.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("Timeout before all tasks were executed.")
	}
	assert.Equal(t, int32(10), count.Load())

	// No parallelism: runs inline.
	pool.SetMaxParallelism(0)
	ran := false
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran)
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{-1, 0, 1, 3, 16} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		const n = 37
		var hits [n]atomic.Int32
		exception := pool.ParallelFor(n, func(i int) { hits[i].Add(1) })
		require.Nil(t, exception, "parallelism=%d", parallelism)
		for i := range n {
			require.Equal(t, int32(1), hits[i].Load(), "parallelism=%d, index %d", parallelism, i)
		}
	}
}

func TestPool_ParallelForPanic(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(4)
	exception := pool.ParallelFor(8, func(i int) {
		if i == 5 {
			panic("boom")
		}
	})
	assert.Equal(t, "boom", exception)
	assert.Nil(t, pool.ParallelFor(0, func(int) { panic("never called") }))
}
