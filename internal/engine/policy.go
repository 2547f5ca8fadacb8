package engine

import (
	"fmt"
	"math"
	"time"
)

// Outcome is the final disposition of a frame.
type Outcome string

const (
	OutcomeOnTime  Outcome = "on_time"
	OutcomeLate    Outcome = "late_accepted"
	OutcomeDropped Outcome = "dropped"
)

// DropReason explains a dropped frame.
type DropReason string

const (
	DropNone DropReason = ""
	// DropOverrun: the trigger arrived outside the tolerance limit.
	DropOverrun DropReason = "overrun"
	// DropCaptureFailed: at least one sensor failed or timed out.
	DropCaptureFailed DropReason = "capture_failed"
)

// DefaultLateThreshold separates on-time from late-accepted frames.
const DefaultLateThreshold = time.Millisecond

// Schedule is the absolute target sequence of a session.
type Schedule struct {
	Start    int64
	Interval int64
}

// Target returns the absolute target instant of frame i.
// It depends only on Start and i, never on how earlier ticks went.
func (s Schedule) Target(i int64) int64 {
	return s.Start + i*s.Interval
}

// Policy is the per-tick acceptance rule.
type Policy struct {
	Interval       time.Duration
	ToleranceLimit time.Duration
	LateThreshold  time.Duration
}

// FrameInterval returns the nominal interval for a rate in frames per second.
func FrameInterval(rate int) time.Duration {
	return time.Second / time.Duration(rate)
}

// ToleranceLimit returns interval * tolerance, computed in thousandths so
// that decimal tolerances such as 1.2 produce exact limits.
func ToleranceLimit(interval time.Duration, tolerance float64) time.Duration {
	milli := int64(math.Round(tolerance * 1000))
	return time.Duration(int64(interval) * milli / 1000)
}

// NewPolicy builds the acceptance rule for a rate and tolerance multiplier.
func NewPolicy(rate int, tolerance float64, lateThreshold time.Duration) (Policy, error) {
	if rate <= 0 {
		return Policy{}, fmt.Errorf("rate must be positive, got %d", rate)
	}
	if tolerance <= 0 {
		return Policy{}, fmt.Errorf("tolerance must be positive, got %g", tolerance)
	}
	if lateThreshold <= 0 {
		lateThreshold = DefaultLateThreshold
	}
	interval := FrameInterval(rate)
	return Policy{
		Interval:       interval,
		ToleranceLimit: ToleranceLimit(interval, tolerance),
		LateThreshold:  lateThreshold,
	}, nil
}

// Classify maps a trigger error to an outcome. The limit itself is
// accepted; one nanosecond past it is dropped.
func (p Policy) Classify(triggerErrNS int64) Outcome {
	switch {
	case triggerErrNS > int64(p.ToleranceLimit):
		return OutcomeDropped
	case triggerErrNS < int64(p.LateThreshold):
		return OutcomeOnTime
	default:
		return OutcomeLate
	}
}
