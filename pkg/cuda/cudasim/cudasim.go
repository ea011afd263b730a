// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cudasim implements cuda.Driver in pure Go, simulating the CUDA driver's object model.
//
// It models what matters for interoperability: per-device primary contexts with reference counts, created
// contexts, a current context per OS thread, in-order asynchronous streams (including the per-context null
// stream), recordable events, and the status codes the real driver returns for invalid or destroyed handles.
// Kernels are Go functions executed by the stream's goroutine.
//
// The driver is registered as "sim" in the cuda driver registry.
package cudasim

import (
	"fmt"
	"sync"

	"github.com/gomlx/interop/pkg/cuda"
	"github.com/gomlx/interop/pkg/support/sets"
	"k8s.io/klog/v2"
)

// DriverName is the name under which the simulated driver is registered.
const DriverName = "sim"

// Version reported by DriverGetVersion.
const Version = 12040

func init() {
	cuda.RegisterDriver(DriverName, func() (cuda.Driver, error) {
		return New(), nil
	})
}

// DeviceSpec describes a simulated device.
type DeviceSpec struct {
	Name     string
	TotalMem uint64
}

// DefaultDevices is the device list used by New when no WithDevices option is given.
var DefaultDevices = []DeviceSpec{
	{Name: "Simulated GPU 0", TotalMem: 16 << 30},
	{Name: "Simulated GPU 1", TotalMem: 8 << 30},
}

// Option configures the Driver created by New.
type Option func(d *Driver)

// WithDevices sets the simulated devices.
func WithDevices(specs ...DeviceSpec) Option {
	return func(d *Driver) {
		d.specs = append([]DeviceSpec(nil), specs...)
	}
}

// firstHandle is the value of the first allocated handle: handles look like (aligned) pointers.
const (
	firstHandle = 0x10000
	handleStep  = 0x40
)

type contextState struct {
	handle    cuda.Context
	device    cuda.Device
	primary   bool
	destroyed bool

	// nullStream is created lazily the first time the null stream is used with this context.
	nullStream *stream
}

// Driver is a simulated CUDA driver. It is safe for concurrent use.
type Driver struct {
	specs []DeviceSpec

	mu          sync.Mutex
	initialized bool
	nextHandle  uintptr

	primary     []cuda.Context
	primaryRefs []int

	contexts map[cuda.Context]*contextState
	current  map[int]cuda.Context
	streams  map[cuda.Stream]*stream
	events   map[cuda.Event]*event

	// destroyedStreams keeps handles of destroyed streams, so tests can tell "destroyed" from "never existed".
	destroyedStreams sets.Set[cuda.Stream]
	destroyedEvents  sets.Set[cuda.Event]
}

var _ cuda.Driver = (*Driver)(nil)

// New creates a simulated driver. Init must be called before use, like with the real driver.
func New(options ...Option) *Driver {
	d := &Driver{
		specs:            DefaultDevices,
		nextHandle:       firstHandle,
		contexts:         make(map[cuda.Context]*contextState),
		current:          make(map[int]cuda.Context),
		streams:          make(map[cuda.Stream]*stream),
		events:           make(map[cuda.Event]*event),
		destroyedStreams: sets.Make[cuda.Stream](),
		destroyedEvents:  sets.Make[cuda.Event](),
	}
	for _, option := range options {
		option(d)
	}
	d.primary = make([]cuda.Context, len(d.specs))
	d.primaryRefs = make([]int, len(d.specs))
	return d
}

// Name implements cuda.Driver.
func (d *Driver) Name() string { return DriverName }

// String implements fmt.Stringer.
func (d *Driver) String() string {
	return fmt.Sprintf("cudasim(%d devices)", len(d.specs))
}

// lockedNewHandle allocates a new handle value. It must be called with d.mu held.
func (d *Driver) lockedNewHandle() uintptr {
	h := d.nextHandle
	d.nextHandle += handleStep
	return h
}

func fail(call string, r cuda.Result) error {
	klog.V(2).Infof("cudasim: %s -> %s", call, r)
	return cuda.Check(call, r)
}

// Init implements cuda.Driver.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = true
	return nil
}

// DriverGetVersion implements cuda.Driver.
func (d *Driver) DriverGetVersion() (int, error) {
	return Version, nil
}

// lockedCheckInit must be called with d.mu held.
func (d *Driver) lockedCheckInit(call string) error {
	if !d.initialized {
		return fail(call, cuda.ErrorNotInitialized)
	}
	return nil
}

func (d *Driver) lockedCheckDevice(call string, dev cuda.Device) error {
	if err := d.lockedCheckInit(call); err != nil {
		return err
	}
	if dev < 0 || int(dev) >= len(d.specs) {
		return fail(call, cuda.ErrorInvalidDevice)
	}
	return nil
}

// DeviceGetCount implements cuda.Driver.
func (d *Driver) DeviceGetCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckInit("cuDeviceGetCount"); err != nil {
		return 0, err
	}
	return len(d.specs), nil
}

// DeviceGet implements cuda.Driver.
func (d *Driver) DeviceGet(ordinal int) (cuda.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckDevice("cuDeviceGet", cuda.Device(ordinal)); err != nil {
		return 0, err
	}
	return cuda.Device(ordinal), nil
}

// DeviceGetName implements cuda.Driver.
func (d *Driver) DeviceGetName(dev cuda.Device) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckDevice("cuDeviceGetName", dev); err != nil {
		return "", err
	}
	return d.specs[dev].Name, nil
}

// DeviceTotalMem implements cuda.Driver.
func (d *Driver) DeviceTotalMem(dev cuda.Device) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckDevice("cuDeviceTotalMem", dev); err != nil {
		return 0, err
	}
	return d.specs[dev].TotalMem, nil
}

// DevicePrimaryCtxRetain implements cuda.Driver.
func (d *Driver) DevicePrimaryCtxRetain(dev cuda.Device) (cuda.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckDevice("cuDevicePrimaryCtxRetain", dev); err != nil {
		return 0, err
	}
	if d.primaryRefs[dev] == 0 {
		ctx := cuda.Context(d.lockedNewHandle())
		d.contexts[ctx] = &contextState{handle: ctx, device: dev, primary: true}
		d.primary[dev] = ctx
	}
	d.primaryRefs[dev]++
	return d.primary[dev], nil
}

// DevicePrimaryCtxRelease implements cuda.Driver.
// When the last reference is released the primary context is destroyed, with all its streams and events.
func (d *Driver) DevicePrimaryCtxRelease(dev cuda.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckDevice("cuDevicePrimaryCtxRelease", dev); err != nil {
		return err
	}
	if d.primaryRefs[dev] == 0 {
		return fail("cuDevicePrimaryCtxRelease", cuda.ErrorInvalidContext)
	}
	d.primaryRefs[dev]--
	if d.primaryRefs[dev] == 0 {
		d.lockedDestroyContext(d.contexts[d.primary[dev]])
		d.primary[dev] = 0
	}
	return nil
}

// CtxCreate implements cuda.Driver.
func (d *Driver) CtxCreate(dev cuda.Device) (cuda.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckDevice("cuCtxCreate", dev); err != nil {
		return 0, err
	}
	ctx := cuda.Context(d.lockedNewHandle())
	d.contexts[ctx] = &contextState{handle: ctx, device: dev}
	d.current[threadID()] = ctx
	return ctx, nil
}

// CtxDestroy implements cuda.Driver. Primary contexts can't be destroyed, only released.
func (d *Driver) CtxDestroy(ctx cuda.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, err := d.lockedContext("cuCtxDestroy", ctx)
	if err != nil {
		return err
	}
	if state.primary {
		return fail("cuCtxDestroy", cuda.ErrorInvalidContext)
	}
	d.lockedDestroyContext(state)
	tid := threadID()
	if d.current[tid] == ctx {
		delete(d.current, tid)
	}
	return nil
}

// lockedDestroyContext marks the context as destroyed and destroys its streams and events.
func (d *Driver) lockedDestroyContext(state *contextState) {
	state.destroyed = true
	if state.nullStream != nil {
		state.nullStream.close()
		state.nullStream = nil
	}
	for handle, s := range d.streams {
		if s.ctx == state.handle {
			s.close()
			delete(d.streams, handle)
			d.destroyedStreams.Insert(handle)
		}
	}
	for handle, e := range d.events {
		if e.ctx == state.handle {
			delete(d.events, handle)
			d.destroyedEvents.Insert(handle)
		}
	}
}

// lockedContext returns the state of a live context.
func (d *Driver) lockedContext(call string, ctx cuda.Context) (*contextState, error) {
	if err := d.lockedCheckInit(call); err != nil {
		return nil, err
	}
	state, found := d.contexts[ctx]
	if !found {
		return nil, fail(call, cuda.ErrorInvalidContext)
	}
	if state.destroyed {
		return nil, fail(call, cuda.ErrorContextIsDestroyed)
	}
	return state, nil
}

// lockedCurrent returns the state of the context current to the calling thread.
func (d *Driver) lockedCurrent(call string) (*contextState, error) {
	if err := d.lockedCheckInit(call); err != nil {
		return nil, err
	}
	ctx, found := d.current[threadID()]
	if !found || ctx == 0 {
		return nil, fail(call, cuda.ErrorInvalidContext)
	}
	return d.lockedContext(call, ctx)
}

// CtxGetCurrent implements cuda.Driver.
func (d *Driver) CtxGetCurrent() (cuda.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckInit("cuCtxGetCurrent"); err != nil {
		return 0, err
	}
	return d.current[threadID()], nil
}

// CtxSetCurrent implements cuda.Driver.
func (d *Driver) CtxSetCurrent(ctx cuda.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckInit("cuCtxSetCurrent"); err != nil {
		return err
	}
	tid := threadID()
	if ctx == 0 {
		delete(d.current, tid)
		return nil
	}
	if _, err := d.lockedContext("cuCtxSetCurrent", ctx); err != nil {
		return err
	}
	d.current[tid] = ctx
	return nil
}

// CtxGetDevice implements cuda.Driver.
func (d *Driver) CtxGetDevice() (cuda.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, err := d.lockedCurrent("cuCtxGetDevice")
	if err != nil {
		return 0, err
	}
	return state.device, nil
}

// StreamCreate implements cuda.Driver.
func (d *Driver) StreamCreate(_ cuda.StreamFlags) (cuda.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, err := d.lockedCurrent("cuStreamCreate")
	if err != nil {
		return 0, err
	}
	handle := cuda.Stream(d.lockedNewHandle())
	d.streams[handle] = newStream(handle, state.handle)
	return handle, nil
}

// StreamDestroy implements cuda.Driver.
// Work already enqueued in the stream still completes, as with the real driver.
func (d *Driver) StreamDestroy(handle cuda.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckInit("cuStreamDestroy"); err != nil {
		return err
	}
	s, found := d.streams[handle]
	if !found {
		return fail("cuStreamDestroy", cuda.ErrorInvalidHandle)
	}
	s.close()
	delete(d.streams, handle)
	d.destroyedStreams.Insert(handle)
	return nil
}

// lockedStream resolves a stream handle, mapping the null stream to the current context's default stream.
func (d *Driver) lockedStream(call string, handle cuda.Stream) (*stream, error) {
	if err := d.lockedCheckInit(call); err != nil {
		return nil, err
	}
	if handle == cuda.NullStream {
		state, err := d.lockedCurrent(call)
		if err != nil {
			return nil, err
		}
		if state.nullStream == nil {
			state.nullStream = newStream(cuda.NullStream, state.handle)
		}
		return state.nullStream, nil
	}
	s, found := d.streams[handle]
	if !found {
		return nil, fail(call, cuda.ErrorInvalidHandle)
	}
	return s, nil
}

// StreamGetCtx implements cuda.Driver.
func (d *Driver) StreamGetCtx(handle cuda.Stream) (cuda.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.lockedStream("cuStreamGetCtx", handle)
	if err != nil {
		return 0, err
	}
	return s.ctx, nil
}

// StreamSynchronize implements cuda.Driver.
func (d *Driver) StreamSynchronize(handle cuda.Stream) error {
	d.mu.Lock()
	s, err := d.lockedStream("cuStreamSynchronize", handle)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	ok, failure := s.synchronize()
	if !ok {
		return fail("cuStreamSynchronize", cuda.ErrorInvalidHandle)
	}
	if failure != nil {
		klog.V(1).Infof("cudasim: stream %s failed: %v", handle, failure)
		return fail("cuStreamSynchronize", cuda.ErrorLaunchFailed)
	}
	return nil
}

// EventCreate implements cuda.Driver.
func (d *Driver) EventCreate(flags cuda.EventFlags) (cuda.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, err := d.lockedCurrent("cuEventCreate")
	if err != nil {
		return 0, err
	}
	handle := cuda.Event(d.lockedNewHandle())
	d.events[handle] = newEvent(handle, state.handle, flags)
	return handle, nil
}

// EventDestroy implements cuda.Driver.
func (d *Driver) EventDestroy(handle cuda.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lockedCheckInit("cuEventDestroy"); err != nil {
		return err
	}
	if _, found := d.events[handle]; !found {
		return fail("cuEventDestroy", cuda.ErrorInvalidHandle)
	}
	delete(d.events, handle)
	d.destroyedEvents.Insert(handle)
	return nil
}

func (d *Driver) lockedEvent(call string, handle cuda.Event) (*event, error) {
	if err := d.lockedCheckInit(call); err != nil {
		return nil, err
	}
	e, found := d.events[handle]
	if !found {
		return nil, fail(call, cuda.ErrorInvalidHandle)
	}
	return e, nil
}

// EventRecord implements cuda.Driver. The event and the stream must belong to the same context.
func (d *Driver) EventRecord(handle cuda.Event, streamHandle cuda.Stream) error {
	d.mu.Lock()
	e, err := d.lockedEvent("cuEventRecord", handle)
	var s *stream
	if err == nil {
		s, err = d.lockedStream("cuEventRecord", streamHandle)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if e.ctx != s.ctx {
		return fail("cuEventRecord", cuda.ErrorInvalidHandle)
	}
	if !s.enqueueRecord(e) {
		return fail("cuEventRecord", cuda.ErrorInvalidHandle)
	}
	return nil
}

// EventQuery implements cuda.Driver.
func (d *Driver) EventQuery(handle cuda.Event) error {
	d.mu.Lock()
	e, err := d.lockedEvent("cuEventQuery", handle)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if !e.isComplete() {
		return cuda.Check("cuEventQuery", cuda.ErrorNotReady)
	}
	return nil
}

// EventSynchronize implements cuda.Driver.
func (d *Driver) EventSynchronize(handle cuda.Event) error {
	d.mu.Lock()
	e, err := d.lockedEvent("cuEventSynchronize", handle)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	e.wait()
	return nil
}

// LaunchKernel implements cuda.Driver.
func (d *Driver) LaunchKernel(handle cuda.Stream, n int, body func(i int)) error {
	d.mu.Lock()
	s, err := d.lockedStream("cuLaunchKernel", handle)
	var current *contextState
	if err == nil {
		current, err = d.lockedCurrent("cuLaunchKernel")
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if current.handle != s.ctx {
		return fail("cuLaunchKernel", cuda.ErrorInvalidContext)
	}
	if n < 0 || body == nil {
		return fail("cuLaunchKernel", cuda.ErrorInvalidValue)
	}
	if !s.launch(n, body) {
		return fail("cuLaunchKernel", cuda.ErrorInvalidHandle)
	}
	return nil
}
