// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build cuda

package cudadrv

import (
	"testing"

	"github.com/gomlx/interop/pkg/cuda"
	"github.com/stretchr/testify/require"
)

// newDriver returns an initialized driver, or skips the test if no CUDA device is available.
func newDriver(t *testing.T) *Driver {
	d := &Driver{}
	if err := d.Init(); err != nil {
		t.Skipf("CUDA not available on this runner: %v", err)
	}
	if count, err := d.DeviceGetCount(); err != nil || count == 0 {
		t.Skip("no CUDA device on this runner")
	}
	return d
}

func TestResolveOnHardware(t *testing.T) {
	d := newDriver(t)
	dev, err := d.DeviceGet(0)
	require.NoError(t, err)
	primary, err := d.DevicePrimaryCtxRetain(dev)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.DevicePrimaryCtxRelease(dev)) }()

	got, found, err := cuda.ResolveContextForDevice(d, dev, []cuda.Context{primary})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, primary, got)

	var stream cuda.Stream
	require.NoError(t, cuda.WithCurrent(d, primary, func() error {
		var err error
		stream, err = d.StreamCreate(cuda.StreamDefault)
		return err
	}))
	streamCtx, err := d.StreamGetCtx(stream)
	require.NoError(t, err)
	require.Equal(t, primary, streamCtx)
	require.NoError(t, d.StreamDestroy(stream))
}
