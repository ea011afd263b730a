// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels provides a few elementwise kernels, ready to be submitted to a backends.Queue.
//
// Kernels capture the Go slices they operate on: they must stay alive, and must not be modified by the host,
// until the kernel's event completes.
package kernels

import (
	"github.com/gomlx/interop/backends"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Number is the set of element types supported by the generic kernels.
type Number interface {
	constraints.Integer | constraints.Float
}

// Add returns a kernel computing c[i] = a[i] + b[i].
func Add[T Number](a, b, c []T) (backends.Kernel, error) {
	if len(a) != len(c) || len(b) != len(c) {
		return backends.Kernel{}, errors.Errorf("kernels.Add: operands with different lengths: a=%d, b=%d, c=%d",
			len(a), len(b), len(c))
	}
	return backends.Kernel{
		Name:  "Add",
		Range: len(c),
		Body:  func(i int) { c[i] = a[i] + b[i] },
	}, nil
}

// AddFloat16 returns a kernel computing c[i] = a[i] + b[i] for half precision values.
// The sum is computed in float32.
func AddFloat16(a, b, c []float16.Float16) (backends.Kernel, error) {
	if len(a) != len(c) || len(b) != len(c) {
		return backends.Kernel{}, errors.Errorf("kernels.AddFloat16: operands with different lengths: a=%d, b=%d, c=%d",
			len(a), len(b), len(c))
	}
	return backends.Kernel{
		Name:  "AddFloat16",
		Range: len(c),
		Body: func(i int) {
			c[i] = float16.Fromfloat32(a[i].Float32() + b[i].Float32())
		},
	}, nil
}

// Fill returns a kernel setting every element of x to value.
func Fill[T Number](x []T, value T) backends.Kernel {
	return backends.Kernel{
		Name:  "Fill",
		Range: len(x),
		Body:  func(i int) { x[i] = value },
	}
}

// Run submits the kernel to q and waits for its completion.
func Run(q *backends.Queue, kernel backends.Kernel) error {
	event, err := q.Submit(kernel)
	if err != nil {
		return err
	}
	defer func() { _ = event.Release() }()
	return event.Wait()
}
