// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ResolveContextForDevice returns the first context in candidates that is bound to dev.
//
// The driver can only report the device of the current context, so each candidate is made current in
// turn, in the order given, within a single Scope: the context current before the call is restored
// before returning. Candidates that fail to activate, or whose device can't be queried, count as not
// matching.
//
// It returns false if no candidate is bound to dev. Failing to save or restore the current context is a
// driver failure, returned as an error.
func ResolveContextForDevice(drv Driver, dev Device, candidates []Context) (resolved Context, found bool, err error) {
	if len(candidates) == 0 {
		return 0, false, nil
	}
	scope, err := EnterScope(drv)
	if err != nil {
		return 0, false, errors.WithMessagef(err, "resolving context for %s", dev)
	}
	defer func() {
		if closeErr := scope.Close(); closeErr != nil && err == nil {
			resolved, found = 0, false
			err = errors.WithMessagef(closeErr, "resolving context for %s", dev)
		}
	}()
	for _, ctx := range candidates {
		if err := scope.Activate(ctx); err != nil {
			klog.V(1).Infof("cuda: skipping %s while resolving %s: %v", ctx, dev, err)
			continue
		}
		ctxDev, err := drv.CtxGetDevice()
		if err != nil {
			klog.V(1).Infof("cuda: skipping %s while resolving %s: %v", ctx, dev, err)
			continue
		}
		if ctxDev == dev {
			klog.V(2).Infof("cuda: %s resolved to %s", dev, ctx)
			return ctx, true, nil
		}
	}
	return 0, false, nil
}

// DeviceOfContext returns the device ctx is bound to, activating ctx within its own Scope.
func DeviceOfContext(drv Driver, ctx Context) (dev Device, err error) {
	err = WithCurrent(drv, ctx, func() error {
		var err error
		dev, err = drv.CtxGetDevice()
		return err
	})
	return dev, err
}
