// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
)

// Device is a compute device of a Backend.
//
// It is a small comparable value, tagged with its backend and holding the backend's native handle for the
// device. Two Device values are equal (==) if and only if they have the same backend and equal native handles,
// so devices created independently from the same native handle compare equal.
type Device struct {
	backend Backend
	handle  any
}

// NewDevice is used by backend implementations to create the Device for a native handle.
// The handle must be of a comparable type.
func NewDevice(backend Backend, handle any) Device {
	if backend == nil {
		exceptions.Panicf("backends.NewDevice() requires a backend")
	}
	if handle == nil || !reflect.TypeOf(handle).Comparable() {
		exceptions.Panicf("backend %q: device handle of type %T is not comparable", backend.Name(), handle)
	}
	return Device{backend: backend, handle: handle}
}

// Backend that owns the device. It returns nil for the zero Device.
func (d Device) Backend() Backend { return d.backend }

// Handle returns the backend's native handle for the device.
func (d Device) Handle() any { return d.handle }

// IsValid returns false for the zero Device.
func (d Device) IsValid() bool { return d.backend != nil }

// Equal returns whether both devices have the same backend and native handle.
func (d Device) Equal(other Device) bool { return d == other }

// String implements fmt.Stringer.
func (d Device) String() string {
	if d.backend == nil {
		return "Device(invalid)"
	}
	return fmt.Sprintf("%s:%v", d.backend.Name(), d.handle)
}
