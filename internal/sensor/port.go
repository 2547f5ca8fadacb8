// Package sensor defines the boundary between the recorder and the
// hardware collaborators.
//
// The recorder never talks to a bus directly. Each sensor (optical camera,
// thermal array) is a Port that exposes one blocking "acquire one frame"
// primitive; bus speed, register programming and reset sequencing live
// entirely behind it.
package sensor

import (
	"context"
	"errors"
	"fmt"
)

// Canonical sensor names. They double as the per-sensor directory names
// of the output tree.
const (
	Optical = "RGB"
	Thermal = "Thermal"
)

// Port is a single hardware collaborator.
//
// Implementations must guarantee:
//   - Acquire blocks until one frame is available, the context ends, or
//     the hardware fails. One call per logical frame.
//   - Acquire is only ever called from one goroutine at a time.
//   - Shutdown is idempotent.
type Port interface {
	// Name returns the sensor name used in the output tree (e.g. "RGB").
	Name() string

	// Configure applies parameters before the first Acquire.
	Configure(ctx context.Context, params Params) error

	// Acquire returns one frame with its capture timestamp.
	// Returns ErrTimeout or a *HardwareError on failure.
	Acquire(ctx context.Context) (Payload, error)

	// Shutdown releases the hardware handle.
	Shutdown() error
}

// Params are the session-level parameters passed to Configure.
type Params struct {
	// Rate is the target frame rate in frames per second.
	Rate int
}

// Payload is one frame of raw sensor data.
//
// Ownership passes from the Port to the persistence pipeline; the
// scheduler and estimator only read TimestampNS.
type Payload struct {
	// Sensor is the producing sensor's name.
	Sensor string
	// Data is the encoded frame (JPEG, NPY, ...).
	Data []byte
	// Ext is the file extension without the dot (e.g. "jpg").
	Ext string
	// TimestampNS is the capture instant on the recorder's clock.
	TimestampNS int64
}

// ErrTimeout is returned when a frame does not arrive in time.
var ErrTimeout = errors.New("sensor acquire timed out")

// HardwareError wraps a failure reported by the hardware collaborator.
type HardwareError struct {
	Sensor string
	Err    error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("sensor %s: hardware error: %v", e.Sensor, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// IsHardwareError reports whether err wraps a *HardwareError.
func IsHardwareError(err error) bool {
	var he *HardwareError
	return errors.As(err, &he)
}
