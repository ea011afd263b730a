// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"slices"

	"github.com/gomlx/interop/backends"
	"github.com/gomlx/interop/backends/cuda"
	cu "github.com/gomlx/interop/pkg/cuda"
	"github.com/gomlx/interop/pkg/kernels"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// check runs repeat Add kernels per device, on the backend's own queue and, for the cuda backend, on a
// queue wrapping a native stream created directly with the driver, and compares the results.
func check(backend backends.Backend, repeat int) error {
	devices, err := backend.Devices()
	if err != nil {
		return err
	}
	bar := progressbar.NewOptions(len(devices)*repeat,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("checking devices"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())
	defer func() { _ = bar.Finish() }()

	for _, device := range devices {
		if err := checkDevice(backend, device, repeat, func() { _ = bar.Add(1) }); err != nil {
			return errors.WithMessagef(err, "device %s", device)
		}
	}
	return nil
}

func checkDevice(backend backends.Backend, device backends.Device, repeat int, step func()) error {
	ctx, err := backend.NewContext(device)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctx.Release(); err != nil {
			klog.Warningf("Failed to release %s: %+v", ctx, err)
		}
	}()
	q, err := backends.DefaultQueue(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = q.Release() }()

	wrapped, cleanup, err := wrapNativeStream(backend, ctx, device)
	if err != nil {
		return err
	}
	defer cleanup()

	for r := range repeat {
		a := make([]float32, 1024)
		b := make([]float32, 1024)
		for i := range a {
			a[i] = float32(i * r)
			b[i] = float32(i)
		}
		want, err := add(q, a, b)
		if err != nil {
			return err
		}
		if wrapped != nil {
			got, err := add(wrapped, a, b)
			if err != nil {
				return errors.WithMessage(err, "on wrapped native stream")
			}
			if !slices.Equal(want, got) {
				return errors.Errorf("wrapped native stream computed different results on repetition %d", r)
			}
		}
		step()
	}
	return nil
}

func add(q *backends.Queue, a, b []float32) ([]float32, error) {
	c := make([]float32, len(a))
	kernel, err := kernels.Add(a, b, c)
	if err != nil {
		return nil, err
	}
	return c, kernels.Run(q, kernel)
}

// wrapNativeStream creates a native stream in the device's context and wraps it in a Queue. For backends
// other than cuda it returns a nil queue.
func wrapNativeStream(backend backends.Backend, ctx *backends.Context, device backends.Device) (
	q *backends.Queue, cleanup func(), err error) {
	cudaBackend, ok := backend.(*cuda.Backend)
	if !ok {
		return nil, func() {}, nil
	}
	native, err := cuda.ContextForDevice(ctx, device)
	if err != nil {
		return nil, nil, err
	}
	drv := cudaBackend.Driver()
	var stream cu.Stream
	err = cu.WithCurrent(drv, native, func() error {
		var err error
		stream, err = drv.StreamCreate(cu.StreamNonBlocking)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	destroy := func() {
		if err := drv.StreamDestroy(stream); err != nil {
			klog.Warningf("Failed to destroy %s: %+v", stream, err)
		}
	}
	q, err = cuda.MakeQueue(cudaBackend, stream, ctx)
	if err != nil {
		destroy()
		return nil, nil, err
	}
	return q, func() {
		_ = q.Release()
		destroy()
	}, nil
}
