// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build cuda

package cudadrv

/*
#cgo LDFLAGS: -lcuda
#include <cuda.h>
*/
import "C"

import (
	"unsafe"

	"github.com/gomlx/interop/pkg/cuda"
)

func init() {
	cuda.RegisterDriver(DriverName, func() (cuda.Driver, error) {
		return &Driver{}, nil
	})
}

// Driver implements cuda.Driver by calling libcuda.
type Driver struct{}

var _ cuda.Driver = (*Driver)(nil)

func check(call string, r C.CUresult) error {
	return cuda.Check(call, cuda.Result(r))
}

func cContext(ctx cuda.Context) C.CUcontext { return C.CUcontext(unsafe.Pointer(uintptr(ctx))) }
func cStream(s cuda.Stream) C.CUstream      { return C.CUstream(unsafe.Pointer(uintptr(s))) }
func cEvent(e cuda.Event) C.CUevent         { return C.CUevent(unsafe.Pointer(uintptr(e))) }

func goContext(ctx C.CUcontext) cuda.Context { return cuda.Context(uintptr(unsafe.Pointer(ctx))) }

// Name implements cuda.Driver.
func (d *Driver) Name() string { return DriverName }

// Init implements cuda.Driver.
func (d *Driver) Init() error {
	return check("cuInit", C.cuInit(0))
}

// DriverGetVersion implements cuda.Driver.
func (d *Driver) DriverGetVersion() (int, error) {
	var version C.int
	err := check("cuDriverGetVersion", C.cuDriverGetVersion(&version))
	return int(version), err
}

// DeviceGetCount implements cuda.Driver.
func (d *Driver) DeviceGetCount() (int, error) {
	var count C.int
	err := check("cuDeviceGetCount", C.cuDeviceGetCount(&count))
	return int(count), err
}

// DeviceGet implements cuda.Driver.
func (d *Driver) DeviceGet(ordinal int) (cuda.Device, error) {
	var dev C.CUdevice
	err := check("cuDeviceGet", C.cuDeviceGet(&dev, C.int(ordinal)))
	return cuda.Device(dev), err
}

// DeviceGetName implements cuda.Driver.
func (d *Driver) DeviceGetName(dev cuda.Device) (string, error) {
	var buf [256]C.char
	if err := check("cuDeviceGetName", C.cuDeviceGetName(&buf[0], C.int(len(buf)), C.CUdevice(dev))); err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

// DeviceTotalMem implements cuda.Driver.
func (d *Driver) DeviceTotalMem(dev cuda.Device) (uint64, error) {
	var bytes C.size_t
	err := check("cuDeviceTotalMem", C.cuDeviceTotalMem_v2(&bytes, C.CUdevice(dev)))
	return uint64(bytes), err
}

// DevicePrimaryCtxRetain implements cuda.Driver.
func (d *Driver) DevicePrimaryCtxRetain(dev cuda.Device) (cuda.Context, error) {
	var ctx C.CUcontext
	err := check("cuDevicePrimaryCtxRetain", C.cuDevicePrimaryCtxRetain(&ctx, C.CUdevice(dev)))
	return goContext(ctx), err
}

// DevicePrimaryCtxRelease implements cuda.Driver.
func (d *Driver) DevicePrimaryCtxRelease(dev cuda.Device) error {
	return check("cuDevicePrimaryCtxRelease", C.cuDevicePrimaryCtxRelease_v2(C.CUdevice(dev)))
}

// CtxCreate implements cuda.Driver.
func (d *Driver) CtxCreate(dev cuda.Device) (cuda.Context, error) {
	var ctx C.CUcontext
	err := check("cuCtxCreate", C.cuCtxCreate_v2(&ctx, 0, C.CUdevice(dev)))
	return goContext(ctx), err
}

// CtxDestroy implements cuda.Driver.
func (d *Driver) CtxDestroy(ctx cuda.Context) error {
	return check("cuCtxDestroy", C.cuCtxDestroy_v2(cContext(ctx)))
}

// CtxGetCurrent implements cuda.Driver.
func (d *Driver) CtxGetCurrent() (cuda.Context, error) {
	var ctx C.CUcontext
	err := check("cuCtxGetCurrent", C.cuCtxGetCurrent(&ctx))
	return goContext(ctx), err
}

// CtxSetCurrent implements cuda.Driver.
func (d *Driver) CtxSetCurrent(ctx cuda.Context) error {
	return check("cuCtxSetCurrent", C.cuCtxSetCurrent(cContext(ctx)))
}

// CtxGetDevice implements cuda.Driver.
func (d *Driver) CtxGetDevice() (cuda.Device, error) {
	var dev C.CUdevice
	err := check("cuCtxGetDevice", C.cuCtxGetDevice(&dev))
	return cuda.Device(dev), err
}

// StreamCreate implements cuda.Driver.
func (d *Driver) StreamCreate(flags cuda.StreamFlags) (cuda.Stream, error) {
	var stream C.CUstream
	err := check("cuStreamCreate", C.cuStreamCreate(&stream, C.uint(flags)))
	return cuda.Stream(uintptr(unsafe.Pointer(stream))), err
}

// StreamDestroy implements cuda.Driver.
func (d *Driver) StreamDestroy(stream cuda.Stream) error {
	return check("cuStreamDestroy", C.cuStreamDestroy_v2(cStream(stream)))
}

// StreamGetCtx implements cuda.Driver.
func (d *Driver) StreamGetCtx(stream cuda.Stream) (cuda.Context, error) {
	var ctx C.CUcontext
	err := check("cuStreamGetCtx", C.cuStreamGetCtx(cStream(stream), &ctx))
	return goContext(ctx), err
}

// StreamSynchronize implements cuda.Driver.
func (d *Driver) StreamSynchronize(stream cuda.Stream) error {
	return check("cuStreamSynchronize", C.cuStreamSynchronize(cStream(stream)))
}

// EventCreate implements cuda.Driver.
func (d *Driver) EventCreate(flags cuda.EventFlags) (cuda.Event, error) {
	var event C.CUevent
	err := check("cuEventCreate", C.cuEventCreate(&event, C.uint(flags)))
	return cuda.Event(uintptr(unsafe.Pointer(event))), err
}

// EventDestroy implements cuda.Driver.
func (d *Driver) EventDestroy(event cuda.Event) error {
	return check("cuEventDestroy", C.cuEventDestroy_v2(cEvent(event)))
}

// EventRecord implements cuda.Driver.
func (d *Driver) EventRecord(event cuda.Event, stream cuda.Stream) error {
	return check("cuEventRecord", C.cuEventRecord(cEvent(event), cStream(stream)))
}

// EventQuery implements cuda.Driver.
func (d *Driver) EventQuery(event cuda.Event) error {
	return check("cuEventQuery", C.cuEventQuery(cEvent(event)))
}

// EventSynchronize implements cuda.Driver.
func (d *Driver) EventSynchronize(event cuda.Event) error {
	return check("cuEventSynchronize", C.cuEventSynchronize(cEvent(event)))
}

// LaunchKernel implements cuda.Driver: body runs on the host after the stream drains.
func (d *Driver) LaunchKernel(stream cuda.Stream, n int, body func(i int)) error {
	if n < 0 || body == nil {
		return cuda.Check("cuLaunchKernel", cuda.ErrorInvalidValue)
	}
	if err := d.StreamSynchronize(stream); err != nil {
		return err
	}
	for i := range n {
		body(i)
	}
	return nil
}
