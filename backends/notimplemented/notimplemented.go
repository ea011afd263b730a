// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend that returns backends.ErrNotImplemented for all
// operations.
//
// It can be embedded to create mock backends for testing, overriding only the methods needed.
package notimplemented

import (
	"github.com/gomlx/interop/backends"
	"github.com/pkg/errors"
)

// Backend is a dummy backend that can be embedded to create mock backends.
type Backend struct{}

var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "notimplemented"
}

// String returns the same as Name.
func (b *Backend) String() string {
	return b.Name()
}

// Description is a longer description of the Backend.
func (b *Backend) Description() string {
	return "Not Implemented Backend (mock backend for testing)"
}

// Devices returns ErrNotImplemented.
func (b *Backend) Devices() ([]backends.Device, error) {
	return nil, errors.Wrapf(backends.ErrNotImplemented, "Devices()")
}

// DeviceDescription returns ErrNotImplemented.
func (b *Backend) DeviceDescription(device backends.Device) (string, error) {
	return "", errors.Wrapf(backends.ErrNotImplemented, "DeviceDescription(%s)", device)
}

// Capabilities returns no capabilities.
func (b *Backend) Capabilities() backends.Capabilities {
	return backends.Capabilities{}
}

// NewContext returns ErrNotImplemented.
func (b *Backend) NewContext(...backends.Device) (*backends.Context, error) {
	return nil, errors.Wrapf(backends.ErrNotImplemented, "NewContext()")
}

// NewQueue returns ErrNotImplemented.
func (b *Backend) NewQueue(*backends.Context, backends.Device) (*backends.Queue, error) {
	return nil, errors.Wrapf(backends.ErrNotImplemented, "NewQueue()")
}

// Finalize does nothing.
func (b *Backend) Finalize() {}
