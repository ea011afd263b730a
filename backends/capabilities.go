// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"maps"
	"slices"
)

// Capability is a feature a backend may support.
type Capability int

const (
	// NativeDevices means Device handles are native driver handles that can be extracted.
	NativeDevices Capability = iota

	// NativeContexts means each Context is backed by native contexts that can be extracted.
	NativeContexts

	// NativeQueues means queues are backed by native streams, and native streams can be wrapped into queues.
	NativeQueues

	// NativeEvents means events of device-executed commands are backed by native events.
	// Host task events never are, see Event.HasNativeBacking.
	NativeEvents
)

var capabilityNames = map[Capability]string{
	NativeDevices:  "NativeDevices",
	NativeContexts: "NativeContexts",
	NativeQueues:   "NativeQueues",
	NativeEvents:   "NativeEvents",
}

// String implements fmt.Stringer.
func (c Capability) String() string {
	if name, found := capabilityNames[c]; found {
		return name
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

// Capabilities holds what is supported by a backend.
// If a capability is not listed, it's assumed to be false, hence not supported.
type Capabilities map[Capability]bool

// Has returns whether the capability is supported.
func (c Capabilities) Has(capability Capability) bool {
	return c[capability]
}

// List returns the supported capabilities, sorted.
func (c Capabilities) List() []Capability {
	var list []Capability
	for capability, supported := range c {
		if supported {
			list = append(list, capability)
		}
	}
	slices.Sort(list)
	return list
}

// Clone makes a copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	return maps.Clone(c)
}
