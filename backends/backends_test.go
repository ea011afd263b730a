// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/interop/backends"
	"github.com/gomlx/interop/backends/notimplemented"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a mock backend with a configurable name.
type fakeBackend struct {
	notimplemented.Backend
	name   string
	config string
}

func (b *fakeBackend) Name() string { return b.name }

type fakeContextBacking struct {
	releases atomic.Int32
}

func (c *fakeContextBacking) Release() error {
	c.releases.Add(1)
	return nil
}

// fakeQueueBacking runs kernels inline, and logs the calls it receives.
type fakeQueueBacking struct {
	log      []string
	releases int
	native   bool
}

func (q *fakeQueueBacking) Launch(kernel backends.Kernel) (backends.EventBacking, error) {
	q.log = append(q.log, "launch:"+kernel.Name)
	for i := range kernel.Range {
		kernel.Body(i)
	}
	return &fakeEventBacking{native: q.native}, nil
}

func (q *fakeQueueBacking) Synchronize() error {
	q.log = append(q.log, "sync")
	return nil
}

func (q *fakeQueueBacking) Release() error {
	q.releases++
	return nil
}

type fakeEventBacking struct {
	native     bool
	releases   int
	releaseErr error
}

func (e *fakeEventBacking) HasNative() bool      { return e.native }
func (e *fakeEventBacking) Wait() error          { return nil }
func (e *fakeEventBacking) Query() (bool, error) { return true, nil }
func (e *fakeEventBacking) Release() error {
	e.releases++
	return e.releaseErr
}

func TestRegistry(t *testing.T) {
	backends.Register("fake", func(config string) (backends.Backend, error) {
		return &fakeBackend{name: "fake", config: config}, nil
	})
	backends.Register("failing", func(config string) (backends.Backend, error) {
		return nil, errors.New("can't create")
	})
	assert.Contains(t, backends.List(), "fake")
	assert.Contains(t, backends.List(), "failing")

	backend, err := backends.NewWithConfig("fake:some=config")
	require.NoError(t, err)
	assert.Equal(t, "fake", backend.Name())
	assert.Equal(t, "some=config", backend.(*fakeBackend).config)

	backend, err = backends.NewWithConfig("fake")
	require.NoError(t, err)
	assert.Equal(t, "", backend.(*fakeBackend).config)

	_, err = backends.NewWithConfig("failing")
	require.ErrorContains(t, err, "can't create")
	_, err = backends.NewWithConfig("unknown:x")
	require.ErrorContains(t, err, "unknown")

	t.Setenv(backends.ConfigEnvVar, "fake:from-env")
	backend, err = backends.New()
	require.NoError(t, err)
	assert.Equal(t, "from-env", backend.(*fakeBackend).config)
	assert.NotPanics(t, func() { backends.MustNew() })

	t.Setenv(backends.ConfigEnvVar, "failing")
	assert.Panics(t, func() { backends.MustNew() })
}

func TestDevice(t *testing.T) {
	b1 := &fakeBackend{name: "b1"}
	b2 := &fakeBackend{name: "b2"}
	d := backends.NewDevice(b1, 0)
	assert.True(t, d.IsValid())
	assert.Equal(t, d, backends.NewDevice(b1, 0))
	assert.True(t, d.Equal(backends.NewDevice(b1, 0)))
	assert.NotEqual(t, d, backends.NewDevice(b1, 1))
	assert.NotEqual(t, d, backends.NewDevice(b2, 0), "same handle on another backend is another device")
	assert.Equal(t, "b1:0", d.String())

	var zero backends.Device
	assert.False(t, zero.IsValid())
	assert.Nil(t, zero.Backend())
	assert.Equal(t, "Device(invalid)", zero.String())

	assert.Panics(t, func() { backends.NewDevice(b1, []int{0}) })
	assert.Panics(t, func() { backends.NewDevice(nil, 0) })
}

func TestContext(t *testing.T) {
	b := &fakeBackend{name: "fake"}
	other := &fakeBackend{name: "other"}
	d0, d1 := backends.NewDevice(b, 0), backends.NewDevice(b, 1)

	_, err := backends.NewContextWithBacking(b, nil, &fakeContextBacking{})
	require.Error(t, err)
	_, err = backends.NewContextWithBacking(b, []backends.Device{d0, d0}, &fakeContextBacking{})
	require.Error(t, err)
	_, err = backends.NewContextWithBacking(b, []backends.Device{d0, backends.NewDevice(other, 0)}, &fakeContextBacking{})
	require.ErrorIs(t, err, backends.ErrWrongBackend)

	backing := &fakeContextBacking{}
	ctx, err := backends.NewContextWithBacking(b, []backends.Device{d1, d0}, backing)
	require.NoError(t, err)
	assert.Equal(t, []backends.Device{d1, d0}, ctx.Devices())
	assert.Equal(t, 2, ctx.NumDevices())
	assert.Equal(t, 1, ctx.DeviceIndex(d0))
	assert.Equal(t, -1, ctx.DeviceIndex(backends.NewDevice(b, 2)))
	assert.True(t, ctx.Contains(d1))
	assert.NotEmpty(t, ctx.ID())
	assert.Same(t, backing, ctx.Backing())

	ctx2, err := backends.NewContextWithBacking(b, []backends.Device{d0}, &fakeContextBacking{})
	require.NoError(t, err)
	assert.NotEqual(t, ctx.ID(), ctx2.ID())

	require.NoError(t, ctx.Release())
	require.NoError(t, ctx.Release())
	assert.True(t, ctx.IsReleased())
	assert.Equal(t, int32(1), backing.releases.Load())
	_, err = backends.NewQueueWithBacking(ctx, d0, &fakeQueueBacking{})
	require.ErrorIs(t, err, backends.ErrReleased)
}

func TestEvent(t *testing.T) {
	b := &fakeBackend{name: "fake"}
	backing := &fakeEventBacking{native: true}
	event := backends.NewEventWithBacking(b, "kernel", backing)
	assert.True(t, event.HasNativeBacking())
	backing.native = false
	assert.True(t, event.HasNativeBacking(), "native backing is decided at creation")
	require.NoError(t, event.Wait())
	require.NoError(t, event.Release())
	require.NoError(t, event.Release())
	assert.Equal(t, 1, backing.releases)
	require.ErrorIs(t, event.Wait(), backends.ErrReleased)
	_, err := event.Query()
	require.ErrorIs(t, err, backends.ErrReleased)

	taskErr := errors.New("task failed")
	completed := backends.NewCompletedEvent(b, "host", taskErr)
	assert.False(t, completed.HasNativeBacking())
	assert.Nil(t, completed.Backing())
	done, err := completed.Query()
	assert.True(t, done)
	require.ErrorIs(t, err, taskErr)
	require.ErrorIs(t, completed.Wait(), taskErr)

	// A failed release is reported by every call.
	releaseErr := errors.New("cuEventDestroy failed")
	failing := &fakeEventBacking{native: true, releaseErr: releaseErr}
	event = backends.NewEventWithBacking(b, "kernel", failing)
	require.ErrorIs(t, event.Release(), releaseErr)
	require.ErrorIs(t, event.Release(), releaseErr)
	assert.Equal(t, 1, failing.releases)
}

func TestQueue(t *testing.T) {
	b := &fakeBackend{name: "fake"}
	d0, d1 := backends.NewDevice(b, 0), backends.NewDevice(b, 1)
	ctx, err := backends.NewContextWithBacking(b, []backends.Device{d0}, &fakeContextBacking{})
	require.NoError(t, err)

	_, err = backends.NewQueueWithBacking(ctx, d1, &fakeQueueBacking{})
	require.ErrorIs(t, err, backends.ErrIncompatibleContext)

	backing := &fakeQueueBacking{native: true}
	q, err := backends.NewQueueWithBacking(ctx, d0, backing)
	require.NoError(t, err)
	assert.Equal(t, d0, q.Device())
	assert.Same(t, ctx, q.Context())
	assert.Equal(t, b, q.Backend())

	x := make([]int, 3)
	kernelEvent, err := q.ParallelFor("iota", 3, func(i int) { x[i] = i })
	require.NoError(t, err)
	assert.True(t, kernelEvent.HasNativeBacking())

	var seen []int
	hostEvent, err := q.HostTask("copy", func() error {
		seen = append(seen, x...)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, hostEvent.HasNativeBacking(), "host tasks never have native backing")
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, []string{"launch:iota", "sync"}, backing.log, "host tasks wait for previous work")

	panicEvent, err := q.HostTask("panic", func() error { panic("boom") })
	require.NoError(t, err)
	require.ErrorContains(t, panicEvent.Wait(), "boom")
	errEvent, err := q.HostTask("fails", func() error { return errors.New("failed") })
	require.NoError(t, err)
	require.ErrorContains(t, errEvent.Wait(), "failed")

	_, err = q.ParallelFor("invalid", -1, func(int) {})
	require.Error(t, err)
	_, err = q.Submit(backends.Kernel{Name: "no body", Range: 1})
	require.Error(t, err)

	require.NoError(t, q.Wait())
	require.NoError(t, q.Release())
	require.NoError(t, q.Release())
	assert.Equal(t, 1, backing.releases)
	assert.False(t, ctx.IsReleased(), "queues don't release contexts they don't own")
	_, err = q.ParallelFor("late", 1, func(int) {})
	require.ErrorIs(t, err, backends.ErrReleased)
	require.ErrorIs(t, q.Wait(), backends.ErrReleased)
}

func TestHostTaskSubmitsToItsOwnQueue(t *testing.T) {
	b := &fakeBackend{name: "fake"}
	d0 := backends.NewDevice(b, 0)
	ctx, err := backends.NewContextWithBacking(b, []backends.Device{d0}, &fakeContextBacking{})
	require.NoError(t, err)
	backing := &fakeQueueBacking{native: true}
	q, err := backends.NewQueueWithBacking(ctx, d0, backing)
	require.NoError(t, err)

	x := make([]int, 4)
	done := make(chan error, 1)
	go func() {
		event, err := q.HostTask("outer", func() error {
			inner, err := q.ParallelFor("inner", len(x), func(i int) { x[i] = i + 1 })
			if err != nil {
				return err
			}
			if err := inner.Wait(); err != nil {
				return err
			}
			nested, err := q.HostTask("nested", func() error { return nil })
			if err != nil {
				return err
			}
			if err := nested.Wait(); err != nil {
				return err
			}
			return q.Wait()
		})
		if err != nil {
			done <- err
			return
		}
		done <- event.Wait()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("host task submitting to its own queue didn't complete")
	}
	assert.Equal(t, []int{1, 2, 3, 4}, x)
	assert.Equal(t, []string{"sync", "launch:inner", "sync", "sync"}, backing.log)
	require.NoError(t, q.Release())
}

func TestDriverError(t *testing.T) {
	assert.NoError(t, backends.NewDriverError("fake", true, nil, "op"))

	driverErr := errors.New("CUDA_ERROR_INVALID_HANDLE")
	err := backends.NewDriverError("fake", true, driverErr, "wrapping %s", "stream")
	require.ErrorIs(t, err, backends.ErrInvalidNativeHandle)
	require.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, backends.ErrDriver)
	assert.Contains(t, err.Error(), "wrapping stream")

	err = backends.NewDriverError("fake", false, driverErr, "launching")
	require.ErrorIs(t, err, backends.ErrDriver)
	var asDriverErr *backends.DriverError
	require.True(t, errors.As(errors.WithMessage(err, "outer"), &asDriverErr))
	assert.Equal(t, "launching", asDriverErr.Op)

	panicErr := backends.PanicError(driverErr, "kernel %q", "k")
	require.ErrorIs(t, panicErr, driverErr)
	assert.Contains(t, backends.PanicError("oops", "task").Error(), "oops")
}

func TestCapabilities(t *testing.T) {
	caps := backends.Capabilities{backends.NativeEvents: true, backends.NativeDevices: true, backends.NativeQueues: false}
	assert.True(t, caps.Has(backends.NativeEvents))
	assert.False(t, caps.Has(backends.NativeQueues))
	assert.False(t, caps.Has(backends.NativeContexts))
	assert.Equal(t, []backends.Capability{backends.NativeDevices, backends.NativeEvents}, caps.List())
	assert.Equal(t, "NativeEvents", backends.NativeEvents.String())
	assert.Equal(t, "Capability(99)", backends.Capability(99).String())

	cloned := caps.Clone()
	cloned[backends.NativeContexts] = true
	assert.False(t, caps.Has(backends.NativeContexts))

	b := &fakeBackend{name: "fake"}
	assert.Empty(t, b.Capabilities().List())
}
