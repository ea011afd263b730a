// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// Driver is the subset of the CUDA driver API used by the interop layer.
//
// Every method maps to one driver entry point and returns an error wrapping *Error on any status
// other than Success. Methods that implicitly target "the current context" (CtxGetDevice, StreamCreate,
// EventCreate, LaunchKernel on the null stream) use the context current to the calling OS thread: callers
// must pin their goroutine with runtime.LockOSThread for the duration, see Scope.
type Driver interface {
	// Name of the driver implementation, e.g. "libcuda" or "sim".
	Name() string

	// Init initializes the driver (cuInit). It is safe to call more than once.
	Init() error

	// DriverGetVersion returns the driver API version, e.g. 12040 for 12.4.
	DriverGetVersion() (int, error)

	DeviceGetCount() (int, error)
	DeviceGet(ordinal int) (Device, error)
	DeviceGetName(dev Device) (string, error)
	DeviceTotalMem(dev Device) (uint64, error)

	// DevicePrimaryCtxRetain returns the device's primary context, incrementing its reference count.
	DevicePrimaryCtxRetain(dev Device) (Context, error)

	// DevicePrimaryCtxRelease decrements the reference count of the device's primary context.
	DevicePrimaryCtxRelease(dev Device) error

	// CtxCreate creates a new (non-primary) context on dev and makes it current to the calling thread.
	CtxCreate(dev Device) (Context, error)
	CtxDestroy(ctx Context) error

	// CtxGetCurrent returns the context current to the calling thread, 0 if there is none.
	CtxGetCurrent() (Context, error)

	// CtxSetCurrent binds ctx to the calling thread. Setting 0 unbinds the current context.
	CtxSetCurrent(ctx Context) error

	// CtxGetDevice returns the device of the context current to the calling thread.
	CtxGetDevice() (Device, error)

	// StreamCreate creates a stream in the current context.
	StreamCreate(flags StreamFlags) (Stream, error)
	StreamDestroy(stream Stream) error

	// StreamGetCtx returns the context the stream was created in.
	// For the NullStream it returns the current context.
	StreamGetCtx(stream Stream) (Context, error)
	StreamSynchronize(stream Stream) error

	// EventCreate creates an event in the current context.
	EventCreate(flags EventFlags) (Event, error)
	EventDestroy(event Event) error

	// EventRecord captures the work submitted to stream so far into event.
	EventRecord(event Event, stream Stream) error

	// EventQuery returns nil if the work captured by event is complete, an ErrorNotReady error if it is pending.
	EventQuery(event Event) error
	EventSynchronize(event Event) error

	// LaunchKernel enqueues body for every index in [0, n) onto stream.
	// The stream's context must be current.
	//
	// Device code generation is not part of this layer: drivers decide how the Go body is executed, as long
	// as it is ordered with respect to the other work in the stream.
	LaunchKernel(stream Stream, n int, body func(i int)) error
}

// DriverConstructor creates a new Driver instance.
type DriverConstructor func() (Driver, error)

// PreferredDriver is the driver picked by NewDriver("") when it is registered.
const PreferredDriver = "libcuda"

var (
	driversMu      sync.Mutex
	driverRegistry = make(map[string]DriverConstructor)
	driverOrder    []string
)

// RegisterDriver makes a driver implementation available under the given name.
// It is usually called from the init() of the package implementing the driver.
func RegisterDriver(name string, constructor DriverConstructor) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, found := driverRegistry[name]; !found {
		driverOrder = append(driverOrder, name)
	}
	driverRegistry[name] = constructor
}

// Drivers returns the names of the registered drivers, in registration order.
func Drivers() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	return slices.Clone(driverOrder)
}

// NewDriver creates and initializes the driver registered under name.
//
// If name is empty, PreferredDriver is used if registered, otherwise the first registered driver.
func NewDriver(name string) (Driver, error) {
	driversMu.Lock()
	if name == "" {
		if _, found := driverRegistry[PreferredDriver]; found {
			name = PreferredDriver
		} else if len(driverOrder) > 0 {
			name = driverOrder[0]
		}
	}
	constructor, found := driverRegistry[name]
	driversMu.Unlock()
	if !found {
		return nil, errors.Errorf("cuda driver %q not registered, registered drivers: %q", name, Drivers())
	}
	drv, err := constructor()
	if err != nil {
		return nil, errors.WithMessagef(err, "creating cuda driver %q", name)
	}
	if err := drv.Init(); err != nil {
		return nil, errors.WithMessagef(err, "initializing cuda driver %q", name)
	}
	return drv, nil
}
