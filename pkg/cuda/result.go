// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"

	"github.com/pkg/errors"
)

// Result is a CUresult status code returned by the driver.
//
// Only the codes the interop layer cares about are named, other values are carried through as is.
type Result int32

const (
	Success                 Result = 0
	ErrorInvalidValue       Result = 1
	ErrorOutOfMemory        Result = 2
	ErrorNotInitialized     Result = 3
	ErrorDeinitialized      Result = 4
	ErrorNoDevice           Result = 100
	ErrorInvalidDevice      Result = 101
	ErrorInvalidContext     Result = 201
	ErrorContextAlreadyUsed Result = 216
	ErrorInvalidHandle      Result = 400
	ErrorNotFound           Result = 500
	ErrorNotReady           Result = 600
	ErrorContextIsDestroyed Result = 709
	ErrorLaunchFailed       Result = 719
	ErrorNotSupported       Result = 801
	ErrorUnknown            Result = 999
)

var resultNames = map[Result]string{
	Success:                 "CUDA_SUCCESS",
	ErrorInvalidValue:       "CUDA_ERROR_INVALID_VALUE",
	ErrorOutOfMemory:        "CUDA_ERROR_OUT_OF_MEMORY",
	ErrorNotInitialized:     "CUDA_ERROR_NOT_INITIALIZED",
	ErrorDeinitialized:      "CUDA_ERROR_DEINITIALIZED",
	ErrorNoDevice:           "CUDA_ERROR_NO_DEVICE",
	ErrorInvalidDevice:      "CUDA_ERROR_INVALID_DEVICE",
	ErrorInvalidContext:     "CUDA_ERROR_INVALID_CONTEXT",
	ErrorContextAlreadyUsed: "CUDA_ERROR_CONTEXT_ALREADY_IN_USE",
	ErrorInvalidHandle:      "CUDA_ERROR_INVALID_HANDLE",
	ErrorNotFound:           "CUDA_ERROR_NOT_FOUND",
	ErrorNotReady:           "CUDA_ERROR_NOT_READY",
	ErrorContextIsDestroyed: "CUDA_ERROR_CONTEXT_IS_DESTROYED",
	ErrorLaunchFailed:       "CUDA_ERROR_LAUNCH_FAILED",
	ErrorNotSupported:       "CUDA_ERROR_NOT_SUPPORTED",
	ErrorUnknown:            "CUDA_ERROR_UNKNOWN",
}

// String returns the name of the code as in cuda.h.
func (r Result) String() string {
	if name, found := resultNames[r]; found {
		return name
	}
	return fmt.Sprintf("CUresult(%d)", int32(r))
}

// Error is returned by drivers when a driver call returns anything other than Success.
type Error struct {
	// Call is the name of the driver entry point, e.g. "cuStreamGetCtx".
	Call   string
	Result Result
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %s (%d)", e.Call, e.Result, int32(e.Result))
}

// Check converts a driver status code into an error: nil for Success, an *Error with a stack otherwise.
func Check(call string, r Result) error {
	if r == Success {
		return nil
	}
	return errors.WithStack(&Error{Call: call, Result: r})
}

// ResultOf returns the status code carried by err.
//
// It returns Success for a nil error, and ErrorUnknown if err doesn't wrap an *Error.
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	var cuErr *Error
	if errors.As(err, &cuErr) {
		return cuErr.Result
	}
	return ErrorUnknown
}

// IsInvalidHandle reports whether err is the driver rejecting a handle as malformed or already destroyed.
func IsInvalidHandle(err error) bool {
	if err == nil {
		return false
	}
	switch ResultOf(err) {
	case ErrorInvalidHandle, ErrorInvalidContext, ErrorContextIsDestroyed, ErrorInvalidDevice, ErrorInvalidValue:
		return true
	}
	return false
}

// IsNotReady reports whether err is the "not ready" status returned by queries on pending work.
func IsNotReady(err error) bool {
	return err != nil && ResultOf(err) == ErrorNotReady
}
