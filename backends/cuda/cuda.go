// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cuda implements a backends.Backend on top of the CUDA driver API, and the functions to move
// between the abstract runtime's objects and the driver's native handles:
//
//   - MakeDevice, MakeQueue and MakeEvent wrap native handles into abstract objects. Wrapped handles are
//     never destroyed by this package: the caller keeps ownership.
//   - NativeDevice, NativeContext, NativeQueue and NativeEvent return the native handles behind abstract
//     objects, failing with backends.ErrWrongBackend for objects of other backends.
//   - HasNativeEvent reports whether an Event is backed by a native CUDA event.
//
// An abstract Context spans one or more devices, and the driver binds one native context per device, so a
// Context holds one native (primary) context per device, in the order of its devices.
//
// The driver used is selected by the backend configuration: "cuda:sim" uses the simulated driver, "cuda:libcuda"
// the cgo binding (built with the "cuda" tag), and "cuda" alone picks libcuda if available.
package cuda

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/interop/backends"
	cu "github.com/gomlx/interop/pkg/cuda"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in GOMLX_INTEROP_BACKEND to specify this backend.
const BackendName = "cuda"

// Registers New() as the constructor for the "cuda" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new CUDA Backend.
// The config is the name of the driver to use, see cuda.NewDriver.
func New(config string) (backends.Backend, error) {
	drv, err := cu.NewDriver(config)
	if err != nil {
		return nil, err
	}
	return NewWithDriver(drv)
}

// NewWithDriver creates a Backend using the given driver, which must be initialized.
func NewWithDriver(drv cu.Driver) (*Backend, error) {
	if drv == nil {
		return nil, errors.New("cuda backend requires a driver")
	}
	version, err := drv.DriverGetVersion()
	if err != nil {
		return nil, driverError(err, "querying driver version")
	}
	b := &Backend{driver: drv, version: version}
	klog.V(1).Infof("cuda backend created with driver %q (version %d)", drv.Name(), version)
	return b, nil
}

// Backend implements backends.Backend for the CUDA driver API.
type Backend struct {
	driver  cu.Driver
	version int

	mu        sync.Mutex
	finalized bool
}

// Compile-time check that cuda.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Driver returns the native driver used by the backend.
func (b *Backend) Driver() cu.Driver { return b.driver }

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements backends.Backend.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("CUDA driver backend (driver %q, API %d.%d)", b.driver.Name(), b.version/1000, (b.version%1000)/10)
}

// checkValid returns an error if the backend was finalized.
func (b *Backend) checkValid() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return errors.Errorf("backend %q has already been finalized", BackendName)
	}
	return nil
}

// Devices enumerates the devices reported by the driver, in ordinal order.
func (b *Backend) Devices() ([]backends.Device, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	count, err := b.driver.DeviceGetCount()
	if err != nil {
		return nil, driverError(err, "counting devices")
	}
	devices := make([]backends.Device, 0, count)
	for ordinal := range count {
		dev, err := b.driver.DeviceGet(ordinal)
		if err != nil {
			return nil, driverError(err, "getting device #%d", ordinal)
		}
		devices = append(devices, MakeDevice(b, dev))
	}
	return devices, nil
}

// DeviceDescription returns the device name and its total memory.
func (b *Backend) DeviceDescription(device backends.Device) (string, error) {
	dev, err := NativeDevice(device)
	if err != nil {
		return "", err
	}
	name, err := b.driver.DeviceGetName(dev)
	if err != nil {
		return "", driverError(err, "getting name of %s", dev)
	}
	totalMem, err := b.driver.DeviceTotalMem(dev)
	if err != nil {
		return "", driverError(err, "getting memory of %s", dev)
	}
	return fmt.Sprintf("%s (%s)", name, humanize.IBytes(totalMem)), nil
}

// capabilities of every cuda backend.
var capabilities = backends.Capabilities{
	backends.NativeDevices:  true,
	backends.NativeContexts: true,
	backends.NativeQueues:   true,
	backends.NativeEvents:   true,
}

// Capabilities implements backends.Backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return capabilities
}

// Finalize makes the backend invalid. Objects created by the backend must be released by their owners.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true
}

// driverError converts an error returned by the driver to a backends.DriverError.
func driverError(err error, format string, args ...any) error {
	return backends.NewDriverError(BackendName, cu.IsInvalidHandle(err), err, format, args...)
}

// asBackend returns the backend as a *Backend, or ErrWrongBackend.
func asBackend(backend backends.Backend, what string) (*Backend, error) {
	b, ok := backend.(*Backend)
	if !ok || b == nil {
		name := "<nil>"
		if backend != nil {
			name = backend.Name()
		}
		return nil, errors.Wrapf(backends.ErrWrongBackend, "%s belongs to backend %q, not %q", what, name, BackendName)
	}
	return b, nil
}

// checkSameBackend returns ErrWrongBackend if obj wasn't created by b.
func (b *Backend) checkSameBackend(backend backends.Backend, what string) error {
	other, err := asBackend(backend, what)
	if err != nil {
		return err
	}
	if other != b {
		return errors.Wrapf(backends.ErrWrongBackend, "%s belongs to another instance of backend %q", what, BackendName)
	}
	return nil
}
