// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package cudasim

import "golang.org/x/sys/unix"

// threadID identifies the OS thread running the caller, the key of the thread-local current context.
func threadID() int {
	return unix.Gettid()
}
