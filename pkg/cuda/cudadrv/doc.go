// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cudadrv implements cuda.Driver with cgo bindings to the CUDA driver library (libcuda).
//
// The binding is only compiled with the "cuda" build tag, which requires the CUDA toolkit headers and
// libcuda. Without the tag the package is empty, so it can always be imported:
//
//	import _ "github.com/gomlx/interop/pkg/cuda/cudadrv"
//
// When compiled, the driver registers itself as "libcuda", the preferred driver of cuda.NewDriver.
//
// Kernels given to LaunchKernel are Go functions, and there is no device code generation: they are run on the
// host once the stream has drained, which keeps them ordered with respect to the stream's other work.
package cudadrv

// DriverName is the name under which the libcuda binding is registered.
const DriverName = "libcuda"
