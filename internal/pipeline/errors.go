package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when the input sniffs as a container the
// pipeline does not decode.
var ErrUnsupportedFormat = errors.New("pipeline: unsupported input format")

// ErrInvalidDimensions rejects raw input whose dimensions are non-positive
// or inconsistent with the pixel buffer length, before any device work.
var ErrInvalidDimensions = errors.New("pipeline: invalid dimensions")

// DecodeError wraps a failure to decode compressed input bytes. It is a
// task-level failure, never a process-level one.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pipeline: decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DeviceError wraps a kernel or device failure that occurred while rendering
// a tier. The input was valid; the execution environment was not.
type DeviceError struct {
	Tier Tier
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("pipeline: tier %s failed on device: %v", e.Tier, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
