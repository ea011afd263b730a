// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backends, namely SimpleGo and CUDA, and the CUDA drivers.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/interop/backends/default"
//
// The libcuda driver is only included when building with the "cuda" tag, otherwise the cuda backend uses
// the simulated driver.
package _default

import (
	_ "github.com/gomlx/interop/backends/cuda"
	_ "github.com/gomlx/interop/backends/simplego"
	_ "github.com/gomlx/interop/pkg/cuda/cudadrv"
	_ "github.com/gomlx/interop/pkg/cuda/cudasim"
)
