// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the abstract compute runtime: devices, contexts, queues and events, and the
// Backend interface a native backend implements to provide them.
//
// Abstract objects are always tagged with the Backend that created them, so that functions converting
// them to native handles (see for instance package backends/cuda) can detect objects of another backend
// and fail with ErrWrongBackend, even when several backends are in use at the same time.
//
// Backends register themselves (usually in an init() function) with Register, and are created with New or
// NewWithConfig. To include the default backends:
//
//	import _ "github.com/gomlx/interop/backends/default"
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Backend is the API implemented by a native backend of the abstract runtime.
type Backend interface {
	// Name returns the short name of the backend, the one used to register it. E.g.: "cuda".
	Name() string

	// String returns the same as Name.
	String() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Devices enumerates the devices available to the backend, in the backend's order.
	Devices() ([]Device, error)

	// DeviceDescription returns a human-readable description of a device of this backend.
	DeviceDescription(device Device) (string, error)

	// Capabilities returns what the backend supports. The returned value must not be modified.
	Capabilities() Capabilities

	// NewContext creates a Context spanning the given devices, in the order given.
	// If no device is given, the context spans all devices of the backend.
	NewContext(devices ...Device) (*Context, error)

	// NewQueue creates a Queue submitting to device, which must be part of ctx.
	// Native resources created for the queue are owned by it, and freed by Queue.Release.
	NewQueue(ctx *Context, device Device) (*Queue, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registryMu             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "cuda") and
// "<backend_configuration>" is backend specific (e.g.: for the cuda backend, the name of the driver).
const ConfigEnvVar = "GOMLX_INTEROP_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment ConfigEnvVar is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Backend or panics if it fails.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		exceptions.Panicf("backends.MustNew(): %+v", err)
	}
	return backend
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "cuda") and
// "<backend_configuration>" is backend specific (e.g.: for the cuda backend, the driver name).
func NewWithConfig(config string) (Backend, error) {
	registryMu.Lock()
	if len(registeredConstructors) == 0 {
		registryMu.Unlock()
		return nil, errors.Errorf(`no registered backends -- maybe import the default ones with import _ "github.com/gomlx/interop/backends/default"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	registryMu.Unlock()
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q", backendName)
	}
	return backend, nil
}
