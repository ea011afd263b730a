// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cuda describes the object model of the CUDA driver API as seen by the interop layer:
// the native handle types (device, context, stream, event), driver status codes, the Driver
// interface implemented by concrete bindings, and the helpers to work with the driver's
// thread-local "current context".
//
// Concrete drivers live in sub-packages: cudasim (a pure Go simulation) and cudadrv (a cgo
// binding to libcuda, only built with the "cuda" build tag).
package cuda

import "fmt"

// Device is the CUdevice handle: an integral identifier obtained from the driver's device enumeration.
type Device int32

// Context is the CUcontext handle: an opaque pointer-sized token.
type Context uintptr

// Stream is the CUstream handle: an opaque pointer-sized token.
//
// The zero value is the legacy default ("null") stream, and it is a valid handle.
type Stream uintptr

// Event is the CUevent handle: an opaque pointer-sized token.
type Event uintptr

// NullStream is the legacy default stream of the context current to the calling thread.
const NullStream Stream = 0

// String implements fmt.Stringer.
func (d Device) String() string { return fmt.Sprintf("CUdevice(%d)", int32(d)) }

// String implements fmt.Stringer.
func (c Context) String() string { return fmt.Sprintf("CUcontext(%#x)", uintptr(c)) }

// String implements fmt.Stringer.
func (s Stream) String() string {
	if s == NullStream {
		return "CUstream(null)"
	}
	return fmt.Sprintf("CUstream(%#x)", uintptr(s))
}

// String implements fmt.Stringer.
func (e Event) String() string { return fmt.Sprintf("CUevent(%#x)", uintptr(e)) }

// HandleKind enumerates the kinds of native handles exchanged with the abstract runtime.
type HandleKind int

const (
	DeviceHandle HandleKind = iota
	ContextHandle
	StreamHandle
	EventHandle
)

// HandleKinds returns all handle kinds, in declaration order.
func HandleKinds() []HandleKind {
	return []HandleKind{DeviceHandle, ContextHandle, StreamHandle, EventHandle}
}

// String implements fmt.Stringer.
func (k HandleKind) String() string {
	switch k {
	case DeviceHandle:
		return "Device"
	case ContextHandle:
		return "Context"
	case StreamHandle:
		return "Stream"
	case EventHandle:
		return "Event"
	}
	return fmt.Sprintf("HandleKind(%d)", int(k))
}

// HandleDescriptor describes one kind of native handle.
type HandleDescriptor struct {
	Kind HandleKind

	// NativeName is the name of the type in the driver's C API.
	NativeName string

	// Integral is true for handles that are plain integers (as opposed to opaque pointers).
	Integral bool

	// NullValid is true if the zero value is a valid handle for this kind.
	NullValid bool
}

var descriptors = map[HandleKind]HandleDescriptor{
	DeviceHandle:  {Kind: DeviceHandle, NativeName: "CUdevice", Integral: true, NullValid: true},
	ContextHandle: {Kind: ContextHandle, NativeName: "CUcontext"},
	StreamHandle:  {Kind: StreamHandle, NativeName: "CUstream", NullValid: true},
	EventHandle:   {Kind: EventHandle, NativeName: "CUevent"},
}

// Descriptor returns the descriptor of the given handle kind.
// It panics for an unknown kind.
func Descriptor(kind HandleKind) HandleDescriptor {
	desc, found := descriptors[kind]
	if !found {
		panic(fmt.Sprintf("cuda: unknown handle kind %s", kind))
	}
	return desc
}

// StreamFlags are the flags accepted by Driver.StreamCreate.
type StreamFlags uint32

const (
	StreamDefault     StreamFlags = 0x0
	StreamNonBlocking StreamFlags = 0x1
)

// EventFlags are the flags accepted by Driver.EventCreate.
type EventFlags uint32

const (
	EventDefault       EventFlags = 0x0
	EventBlockingSync  EventFlags = 0x1
	EventDisableTiming EventFlags = 0x2
)
