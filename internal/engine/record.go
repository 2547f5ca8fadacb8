package engine

import (
	"time"

	"github.com/roach88/duofusion/internal/quality"
	"github.com/roach88/duofusion/internal/sensor"
)

// FrameRecord is one logical tick. Index 0 of the per-sensor arrays is the
// optical sensor, index 1 the thermal sensor.
//
// Accepted records (on-time, late-accepted) always carry both timestamps
// and both payloads. Dropped records carry whatever survived: nothing for
// an overrun, the surviving sensor's payload for a capture failure.
type FrameRecord struct {
	Seq          int64
	TargetNS     int64
	TriggerNS    int64
	SchedErrorNS int64

	// Timestamps are capture instants; 0 means absent.
	Timestamps [2]int64
	// DeltaNS is |Timestamps[0] - Timestamps[1]|, 0 unless both are present.
	DeltaNS int64

	Outcome    Outcome
	DropReason DropReason

	// SensorErrs flags the sensors that individually failed this tick.
	SensorErrs [2]error

	// Payloads are handed to the persistence sink; nil when absent.
	Payloads [2]*sensor.Payload
}

// Accepted reports whether the record is on-time or late-accepted.
func (r FrameRecord) Accepted() bool {
	return r.Outcome == OutcomeOnTime || r.Outcome == OutcomeLate
}

// Counts tallies frame outcomes for a session.
//
// Dropped includes both overruns and capture failures; Failed counts the
// subset of dropped ticks where at least one sensor failed.
type Counts struct {
	Total   int64 `json:"total" yaml:"total"`
	OnTime  int64 `json:"on_time" yaml:"on_time"`
	Late    int64 `json:"late_accepted" yaml:"late_accepted"`
	Dropped int64 `json:"dropped" yaml:"dropped"`
	Failed  int64 `json:"failed" yaml:"failed"`
}

// Captured returns the number of accepted frames.
func (c Counts) Captured() int64 {
	return c.OnTime + c.Late
}

// SuccessRate returns captured/total, 0 for an empty session.
func (c Counts) SuccessRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Captured()) / float64(c.Total)
}

func (c *Counts) add(r FrameRecord) {
	c.Total++
	switch r.Outcome {
	case OutcomeOnTime:
		c.OnTime++
	case OutcomeLate:
		c.Late++
	case OutcomeDropped:
		c.Dropped++
		if r.DropReason == DropCaptureFailed {
			c.Failed++
		}
	}
}

// Status is the live view pushed after each tick.
type Status struct {
	Session string           `json:"session,omitempty"`
	State   State            `json:"state"`
	Seq     int64            `json:"seq"`
	Elapsed time.Duration    `json:"elapsed"`
	Counts  Counts           `json:"counts"`
	Quality quality.Snapshot `json:"quality"`
}

// Result summarizes a finished Run.
type Result struct {
	State   State
	Counts  Counts
	StartNS int64
	EndNS   int64
	// Frames is the number of sequence indices issued, i.e. [0, Frames).
	Frames int64
}

// Duration returns the wall time between the first target and the end.
func (r Result) Duration() time.Duration {
	if r.EndNS <= r.StartNS {
		return 0
	}
	return time.Duration(r.EndNS - r.StartNS)
}

// ActualFPS returns captured frames per second over the session.
func (r Result) ActualFPS() float64 {
	d := r.Duration().Seconds()
	if d == 0 {
		return 0
	}
	return float64(r.Counts.Captured()) / d
}
