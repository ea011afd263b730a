// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a portable backend for the abstract runtime that runs everything on the host.
//
// It has a single device, the CPU, and kernels are executed by a pool of goroutines. None of its events have
// native backing: there is no native driver behind it.
package simplego

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/interop/backends"
	"github.com/gomlx/interop/internal/workerspool"
	"github.com/pkg/errors"
)

// BackendName to be used in GOMLX_INTEROP_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the default constructor for "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// DeviceNum is the native device handle of the backend: there is only device 0.
type DeviceNum int

// New constructs a new SimpleGo Backend.
//
// The config is either empty or "parallelism=N", the soft limit of goroutines used to run a kernel.
// 0 runs kernels inline, -1 doesn't limit parallelism. The default is runtime.NumCPU().
func New(config string) (backends.Backend, error) {
	b := newBackend()
	if config == "" {
		return b, nil
	}
	for _, part := range strings.Split(config, ",") {
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "parallelism":
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "backend %q: invalid parallelism in config %q", BackendName, config)
			}
			b.pool.SetMaxParallelism(parallelism)
		default:
			return nil, errors.Errorf("backend %q: unknown configuration %q", BackendName, part)
		}
	}
	return b, nil
}

func newBackend() *Backend {
	return &Backend{pool: workerspool.New()}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	pool *workerspool.Pool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implement backends.Backend.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Simple Go Portable Backend (parallelism %d)", b.pool.MaxParallelism())
}

// Devices returns the only device, the host CPU.
func (b *Backend) Devices() ([]backends.Device, error) {
	return []backends.Device{backends.NewDevice(b, DeviceNum(0))}, nil
}

// DeviceDescription implements backends.Backend.
func (b *Backend) DeviceDescription(device backends.Device) (string, error) {
	if device.Backend() != b {
		return "", errors.Wrapf(backends.ErrWrongBackend, "device %s given to backend %q", device, BackendName)
	}
	return fmt.Sprintf("Host CPU (%s/%s, %d cores)", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()), nil
}

// Capabilities implements backends.Backend: there is no native driver, so none of the native capabilities.
func (b *Backend) Capabilities() backends.Capabilities {
	return backends.Capabilities{}
}

// hostContext has nothing to release.
type hostContext struct{}

// Release implements backends.ContextBacking.
func (hostContext) Release() error { return nil }

// NewContext implements backends.Backend.
func (b *Backend) NewContext(devices ...backends.Device) (*backends.Context, error) {
	if len(devices) == 0 {
		devices, _ = b.Devices()
	}
	return backends.NewContextWithBacking(b, devices, hostContext{})
}

// NewQueue implements backends.Backend.
func (b *Backend) NewQueue(ctx *backends.Context, device backends.Device) (*backends.Queue, error) {
	if ctx.Backend() != b {
		return nil, errors.Wrapf(backends.ErrWrongBackend, "%s given to backend %q", ctx, BackendName)
	}
	return backends.NewQueueWithBacking(ctx, device, newQueue(b))
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {}
