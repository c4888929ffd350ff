package device

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by every device-dependent operation invoked
// before a successful Init or after Teardown. Callers must treat it as a
// programming error, not a transient condition.
var ErrNotInitialized = errors.New("device: context not initialized")

// ErrMemoryBudgetExceeded is returned when a kernel allocation would push
// device memory past the configured budget.
var ErrMemoryBudgetExceeded = errors.New("device: memory budget exceeded")

// InitFailure classifies why device initialization failed.
type InitFailure string

const (
	FailureNoBackend   InitFailure = "no-backend"
	FailureNoAdapter   InitFailure = "no-adapter"
	FailureDeviceOpen  InitFailure = "device-open"
	FailureOutOfMemory InitFailure = "out-of-memory"
)

// InitializationError is the fatal startup error surfaced to the caller
// when the GPU runtime cannot be acquired.
type InitializationError struct {
	Reason InitFailure
	Err    error
}

func (e *InitializationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device: initialization failed (%s)", e.Reason)
	}

	return fmt.Sprintf("device: initialization failed (%s): %v", e.Reason, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
