// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Command is something submitted to a Queue: either a Kernel or a HostTask.
type Command interface {
	// CommandName returns the name given to the command, for logging.
	CommandName() string
}

// Kernel is a device-executed command: Body is called once for every index in [0, Range).
//
// How Body is executed is up to the backend, the only guarantee is that it runs after everything submitted
// before it to the same queue, and before anything submitted after it.
type Kernel struct {
	Name  string
	Range int
	Body  func(i int)
}

// CommandName implements Command.
func (k Kernel) CommandName() string { return k.Name }

// HostTask is a host-executed command: the queue waits for the work submitted before it, and then Fn runs on
// the submitting goroutine.
//
// No native driver command is involved, so the Event of a HostTask never has native backing.
type HostTask struct {
	Name string
	Fn   func() error
}

// CommandName implements Command.
func (h HostTask) CommandName() string { return h.Name }
