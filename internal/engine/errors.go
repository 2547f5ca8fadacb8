package engine

import (
	"errors"
	"fmt"
)

// RecordingError represents a fatal or configuration error of a session.
//
// Recoverable conditions (a single missed frame, a single failed write)
// never produce a RecordingError; they surface as per-record flags.
type RecordingError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Session identifies the affected session, when known.
	Session string

	// Sensor names the failing sensor (persistent capture failures).
	Sensor string

	// Seq is the frame index at which the error was detected.
	Seq int64

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes recording errors.
type ErrorCode string

const (
	// ErrCodePersistentFailure indicates a sensor failed too many consecutive ticks.
	ErrCodePersistentFailure ErrorCode = "CAPTURE_PERSISTENT_FAILURE"

	// ErrCodeStorageStalled indicates the staging writer kept failing.
	ErrCodeStorageStalled ErrorCode = "STORAGE_STALLED"

	// ErrCodeConfigInvalid indicates the configuration was rejected before capture.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// ErrCodeClockNotMonotonic indicates the time source went backwards.
	ErrCodeClockNotMonotonic ErrorCode = "CLOCK_NOT_MONOTONIC"

	// ErrCodeMigrationFailed indicates staging data could not reach durable storage.
	ErrCodeMigrationFailed ErrorCode = "MIGRATION_FAILED"
)

// Error implements the error interface.
func (e *RecordingError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Sensor != "" {
		msg += fmt.Sprintf(" (sensor=%s, seq=%d)", e.Sensor, e.Seq)
	}
	if e.Session != "" {
		msg += fmt.Sprintf(" (session=%s)", e.Session)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RecordingError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first RecordingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *RecordingError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsPersistentFailure returns true if err is a persistent capture failure.
// Uses errors.As to handle wrapped errors.
func IsPersistentFailure(err error) bool {
	return CodeOf(err) == ErrCodePersistentFailure
}

// IsStorageStalled returns true if err is a storage stall.
func IsStorageStalled(err error) bool {
	return CodeOf(err) == ErrCodeStorageStalled
}

// IsConfigError returns true if err is a configuration error.
func IsConfigError(err error) bool {
	return CodeOf(err) == ErrCodeConfigInvalid
}

// IsMigrationError returns true if err is a migration failure.
func IsMigrationError(err error) bool {
	return CodeOf(err) == ErrCodeMigrationFailed
}

// NewPersistentFailureError creates a RecordingError for a sensor that
// failed failures consecutive ticks.
func NewPersistentFailureError(sensor string, seq int64, failures int, cause error) *RecordingError {
	return &RecordingError{
		Code:    ErrCodePersistentFailure,
		Message: fmt.Sprintf("sensor failed %d consecutive ticks", failures),
		Sensor:  sensor,
		Seq:     seq,
		Details: map[string]string{
			"consecutive_failures": fmt.Sprintf("%d", failures),
		},
		Err: cause,
	}
}

// NewStorageStalledError creates a RecordingError for a stalled writer.
func NewStorageStalledError(failures int, cause error) *RecordingError {
	return &RecordingError{
		Code:    ErrCodeStorageStalled,
		Message: fmt.Sprintf("storage stalled after %d consecutive write failures", failures),
		Details: map[string]string{
			"consecutive_failures": fmt.Sprintf("%d", failures),
		},
		Err: cause,
	}
}

// NewConfigError creates a RecordingError for an invalid configuration.
func NewConfigError(message string, cause error) *RecordingError {
	return &RecordingError{
		Code:    ErrCodeConfigInvalid,
		Message: message,
		Err:     cause,
	}
}

// NewClockError creates a RecordingError for a non-monotonic clock.
func NewClockError(cause error) *RecordingError {
	return &RecordingError{
		Code:    ErrCodeClockNotMonotonic,
		Message: "time source is not monotonic",
		Err:     cause,
	}
}

// NewMigrationError creates a RecordingError for a failed migration.
// The staging directory is preserved and named in Details.
func NewMigrationError(session, stagingDir string, cause error) *RecordingError {
	return &RecordingError{
		Code:    ErrCodeMigrationFailed,
		Message: "migration to durable storage failed, staging data preserved",
		Session: session,
		Details: map[string]string{
			"staging_dir": stagingDir,
		},
		Err: cause,
	}
}
