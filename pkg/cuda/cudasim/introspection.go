// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cudasim

import "github.com/gomlx/interop/pkg/cuda"

// The methods below are not part of cuda.Driver: they let tests observe the driver's state.

// LiveStreams returns the number of streams created and not yet destroyed.
func (d *Driver) LiveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// LiveEvents returns the number of events created and not yet destroyed.
func (d *Driver) LiveEvents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// IsLiveStream reports whether handle is a stream that has not been destroyed.
func (d *Driver) IsLiveStream(handle cuda.Stream) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, found := d.streams[handle]
	return found
}

// WasDestroyedStream reports whether handle is a stream that was destroyed.
func (d *Driver) WasDestroyedStream(handle cuda.Stream) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyedStreams.Has(handle)
}

// IsLiveEvent reports whether handle is an event that has not been destroyed.
func (d *Driver) IsLiveEvent(handle cuda.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, found := d.events[handle]
	return found
}

// WasDestroyedEvent reports whether handle is an event that was destroyed.
func (d *Driver) WasDestroyedEvent(handle cuda.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyedEvents.Has(handle)
}

// PrimaryContextRefs returns the reference count of dev's primary context.
func (d *Driver) PrimaryContextRefs(dev cuda.Device) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dev < 0 || int(dev) >= len(d.primaryRefs) {
		return 0
	}
	return d.primaryRefs[dev]
}
