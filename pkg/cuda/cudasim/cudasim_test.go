// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cudasim

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/interop/pkg/cuda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDriver returns an initialized driver, with the test goroutine pinned to its OS thread.
func newDriver(t *testing.T, options ...Option) *Driver {
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
	d := New(options...)
	require.NoError(t, d.Init())
	return d
}

func TestNotInitialized(t *testing.T) {
	d := New()
	_, err := d.DeviceGetCount()
	require.Error(t, err)
	assert.Equal(t, cuda.ErrorNotInitialized, cuda.ResultOf(err))
}

func TestDevices(t *testing.T) {
	d := newDriver(t, WithDevices(DeviceSpec{Name: "tiny", TotalMem: 1 << 20}))
	count, err := d.DeviceGetCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	dev, err := d.DeviceGet(0)
	require.NoError(t, err)
	name, err := d.DeviceGetName(dev)
	require.NoError(t, err)
	assert.Equal(t, "tiny", name)
	mem, err := d.DeviceTotalMem(dev)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), mem)
	_, err = d.DeviceGet(1)
	assert.Equal(t, cuda.ErrorInvalidDevice, cuda.ResultOf(err))
	version, err := d.DriverGetVersion()
	require.NoError(t, err)
	assert.Equal(t, Version, version)
}

func TestPrimaryContextRefCount(t *testing.T) {
	d := newDriver(t)
	p0, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	again, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	require.Equal(t, p0, again)
	require.Equal(t, 2, d.PrimaryContextRefs(0))

	require.NoError(t, d.CtxSetCurrent(p0))
	stream, err := d.StreamCreate(cuda.StreamDefault)
	require.NoError(t, err)
	require.Error(t, d.CtxDestroy(p0), "primary contexts can only be released")

	require.NoError(t, d.DevicePrimaryCtxRelease(0))
	assert.True(t, d.IsLiveStream(stream))
	require.NoError(t, d.DevicePrimaryCtxRelease(0))
	assert.Equal(t, 0, d.PrimaryContextRefs(0))
	assert.True(t, d.WasDestroyedStream(stream), "streams die with their context")
	err = d.CtxSetCurrent(p0)
	assert.Equal(t, cuda.ErrorContextIsDestroyed, cuda.ResultOf(err))
	assert.Equal(t, cuda.ErrorInvalidContext, cuda.ResultOf(d.DevicePrimaryCtxRelease(0)))

	// A new primary context is created on the next retain.
	p0b, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	assert.NotEqual(t, p0, p0b)
}

func TestCurrentContextIsPerThread(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("the simulated current context is only thread-local on linux")
	}
	d := newDriver(t)
	p0, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	p1, err := d.DevicePrimaryCtxRetain(1)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p0))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		ctx, err := d.CtxGetCurrent()
		assert.NoError(t, err)
		assert.Equal(t, cuda.Context(0), ctx, "new thread starts with no current context")
		assert.NoError(t, d.CtxSetCurrent(p1))
		dev, err := d.CtxGetDevice()
		assert.NoError(t, err)
		assert.Equal(t, cuda.Device(1), dev)
		assert.NoError(t, d.CtxSetCurrent(0))
	}()
	wg.Wait()

	ctx, err := d.CtxGetCurrent()
	require.NoError(t, err)
	assert.Equal(t, p0, ctx)
}

func TestCtxCreate(t *testing.T) {
	d := newDriver(t)
	ctx, err := d.CtxCreate(1)
	require.NoError(t, err)
	current, err := d.CtxGetCurrent()
	require.NoError(t, err)
	assert.Equal(t, ctx, current, "CtxCreate makes the new context current")
	dev, err := d.CtxGetDevice()
	require.NoError(t, err)
	assert.Equal(t, cuda.Device(1), dev)

	require.NoError(t, d.CtxDestroy(ctx))
	current, err = d.CtxGetCurrent()
	require.NoError(t, err)
	assert.Equal(t, cuda.Context(0), current)
	_, err = d.CtxGetDevice()
	assert.Equal(t, cuda.ErrorInvalidContext, cuda.ResultOf(err))
	assert.Equal(t, cuda.ErrorContextIsDestroyed, cuda.ResultOf(d.CtxDestroy(ctx)))
}

func TestStreamOrdering(t *testing.T) {
	d := newDriver(t)
	ctx, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(ctx))
	stream, err := d.StreamCreate(cuda.StreamNonBlocking)
	require.NoError(t, err)
	streamCtx, err := d.StreamGetCtx(stream)
	require.NoError(t, err)
	assert.Equal(t, ctx, streamCtx)

	var order []int
	for k := range 20 {
		require.NoError(t, d.LaunchKernel(stream, 3, func(i int) {
			order = append(order, 10*k+i)
		}))
	}
	require.NoError(t, d.StreamSynchronize(stream))
	require.Len(t, order, 60)
	for k := range 20 {
		assert.Equal(t, []int{10 * k, 10*k + 1, 10*k + 2}, order[3*k:3*k+3])
	}

	require.NoError(t, d.StreamDestroy(stream))
	assert.False(t, d.IsLiveStream(stream))
	assert.True(t, d.WasDestroyedStream(stream))
	assert.Equal(t, cuda.ErrorInvalidHandle, cuda.ResultOf(d.StreamDestroy(stream)))
	_, err = d.StreamGetCtx(stream)
	assert.True(t, cuda.IsInvalidHandle(err))
	assert.False(t, d.WasDestroyedStream(cuda.Stream(0x1234)))
}

func TestLaunchRequiresCurrentContext(t *testing.T) {
	d := newDriver(t)
	p0, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	p1, err := d.DevicePrimaryCtxRetain(1)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p0))
	stream, err := d.StreamCreate(cuda.StreamDefault)
	require.NoError(t, err)

	require.NoError(t, d.CtxSetCurrent(p1))
	err = d.LaunchKernel(stream, 1, func(int) {})
	assert.Equal(t, cuda.ErrorInvalidContext, cuda.ResultOf(err))

	require.NoError(t, d.CtxSetCurrent(p0))
	assert.Equal(t, cuda.ErrorInvalidValue, cuda.ResultOf(d.LaunchKernel(stream, -1, func(int) {})))
	assert.Equal(t, cuda.ErrorInvalidValue, cuda.ResultOf(d.LaunchKernel(stream, 1, nil)))
}

func TestNullStream(t *testing.T) {
	d := newDriver(t)
	_, err := d.StreamGetCtx(cuda.NullStream)
	assert.Equal(t, cuda.ErrorInvalidContext, cuda.ResultOf(err), "null stream without a current context")

	p1, err := d.DevicePrimaryCtxRetain(1)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p1))
	ctx, err := d.StreamGetCtx(cuda.NullStream)
	require.NoError(t, err)
	assert.Equal(t, p1, ctx)

	sum := 0
	require.NoError(t, d.LaunchKernel(cuda.NullStream, 4, func(i int) { sum += i }))
	require.NoError(t, d.StreamSynchronize(cuda.NullStream))
	assert.Equal(t, 6, sum)
}

func TestEvents(t *testing.T) {
	d := newDriver(t)
	p0, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p0))
	stream, err := d.StreamCreate(cuda.StreamDefault)
	require.NoError(t, err)
	event, err := d.EventCreate(cuda.EventDisableTiming)
	require.NoError(t, err)
	require.NoError(t, d.EventQuery(event), "a never-recorded event is complete")

	release := make(chan struct{})
	require.NoError(t, d.LaunchKernel(stream, 1, func(int) { <-release }))
	require.NoError(t, d.EventRecord(event, stream))
	assert.True(t, cuda.IsNotReady(d.EventQuery(event)))
	close(release)
	require.NoError(t, d.EventSynchronize(event))
	require.NoError(t, d.EventQuery(event))

	// Events can't be recorded on a stream of another context.
	p1, err := d.DevicePrimaryCtxRetain(1)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p1))
	otherStream, err := d.StreamCreate(cuda.StreamDefault)
	require.NoError(t, err)
	assert.True(t, cuda.IsInvalidHandle(d.EventRecord(event, otherStream)))

	require.Equal(t, 1, d.LiveEvents())
	require.NoError(t, d.EventDestroy(event))
	assert.Equal(t, 0, d.LiveEvents())
	assert.True(t, d.WasDestroyedEvent(event))
	assert.False(t, d.IsLiveEvent(event))
	assert.True(t, cuda.IsInvalidHandle(d.EventQuery(event)))
	assert.True(t, cuda.IsInvalidHandle(d.EventDestroy(event)))
}

func TestEventRecordOnClosingStream(t *testing.T) {
	d := newDriver(t)
	p0, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p0))
	handle, err := d.StreamCreate(cuda.StreamDefault)
	require.NoError(t, err)
	event, err := d.EventCreate(cuda.EventDefault)
	require.NoError(t, err)

	// The stream stops accepting operations after EventRecord looked it up.
	d.mu.Lock()
	s := d.streams[handle]
	d.mu.Unlock()
	s.close()

	assert.True(t, cuda.IsInvalidHandle(d.EventRecord(event, handle)))
	require.NoError(t, d.EventQuery(event), "a failed record must leave the event complete")
	synced := make(chan error, 1)
	go func() { synced <- d.EventSynchronize(event) }()
	select {
	case err := <-synced:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("EventSynchronize blocked on a record that was never enqueued")
	}
	require.NoError(t, d.EventDestroy(event))
	require.NoError(t, d.StreamDestroy(handle))
}

func TestKernelPanicIsSticky(t *testing.T) {
	d := newDriver(t)
	p0, err := d.DevicePrimaryCtxRetain(0)
	require.NoError(t, err)
	require.NoError(t, d.CtxSetCurrent(p0))
	stream, err := d.StreamCreate(cuda.StreamDefault)
	require.NoError(t, err)

	require.NoError(t, d.LaunchKernel(stream, 1, func(int) { panic("boom") }))
	ran := false
	require.NoError(t, d.LaunchKernel(stream, 1, func(int) { ran = true }))
	assert.Equal(t, cuda.ErrorLaunchFailed, cuda.ResultOf(d.StreamSynchronize(stream)))
	assert.Equal(t, cuda.ErrorLaunchFailed, cuda.ResultOf(d.StreamSynchronize(stream)))
	assert.False(t, ran, "kernels after a failure are skipped")
	require.NoError(t, d.StreamDestroy(stream))
}
