// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !linux

package cudasim

// threadID returns a constant: outside of linux the simulated current context is process-wide.
func threadID() int {
	return 0
}
