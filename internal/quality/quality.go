// Package quality tracks how well the two sensors stay in step.
//
// The Estimator keeps a fixed-size rolling window of the most recent
// inter-sensor deltas and scheduling errors (a ring buffer, never a growing
// list) plus running session totals for the final summary. It never blocks
// capture: the control loop is the only writer and status readers take the
// same short mutex.
package quality

import (
	"sort"
	"sync"
	"time"
)

// Class buckets the inter-sensor delta.
type Class string

const (
	ClassUnknown   Class = "unknown"
	ClassExcellent Class = "excellent"
	ClassGood      Class = "good"
	ClassFair      Class = "fair"
	ClassPoor      Class = "poor"
)

// Classification thresholds (upper bounds, exclusive).
const (
	ExcellentBelow = 5 * time.Millisecond
	GoodBelow      = 10 * time.Millisecond
	FairBelow      = 20 * time.Millisecond
)

// DefaultWindow is the rolling window length.
const DefaultWindow = 100

// Classify maps a delta to its quality bucket.
func Classify(d time.Duration) Class {
	if d < 0 {
		d = -d
	}
	switch {
	case d < ExcellentBelow:
		return ClassExcellent
	case d < GoodBelow:
		return ClassGood
	case d < FairBelow:
		return ClassFair
	default:
		return ClassPoor
	}
}

// Snapshot is a read-only view of the rolling window.
type Snapshot struct {
	Samples        int           `json:"samples"`
	MeanDelta      time.Duration `json:"mean_delta"`
	MedianDelta    time.Duration `json:"median_delta"`
	MaxDelta       time.Duration `json:"max_delta"`
	MeanSchedError time.Duration `json:"mean_sched_error"`
	MaxSchedError  time.Duration `json:"max_sched_error"`
	Class          Class         `json:"class"`
}

// Totals aggregates every observation of a session.
type Totals struct {
	Samples        int64         `json:"samples"`
	MeanDelta      time.Duration `json:"mean_delta"`
	WorstDelta     time.Duration `json:"worst_delta"`
	MeanSchedError time.Duration `json:"mean_sched_error"`
	WorstSchedErr  time.Duration `json:"worst_sched_error"`
}

// Estimator maintains the rolling window.
type Estimator struct {
	mu     sync.Mutex
	deltas *ring
	errs   *ring

	count      int64
	deltaSum   int64
	deltaWorst int64
	errSum     int64
	errWorst   int64
}

// New creates an estimator over the last window observations.
// A non-positive window falls back to DefaultWindow.
func New(window int) *Estimator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Estimator{
		deltas: newRing(window),
		errs:   newRing(window),
	}
}

// Observe records one completed tick. Scheduling errors are stored as
// absolute values.
func (e *Estimator) Observe(deltaNS, schedErrNS int64) {
	if deltaNS < 0 {
		deltaNS = -deltaNS
	}
	if schedErrNS < 0 {
		schedErrNS = -schedErrNS
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.deltas.push(deltaNS)
	e.errs.push(schedErrNS)

	e.count++
	e.deltaSum += deltaNS
	e.errSum += schedErrNS
	if deltaNS > e.deltaWorst {
		e.deltaWorst = deltaNS
	}
	if schedErrNS > e.errWorst {
		e.errWorst = schedErrNS
	}
}

// Snapshot computes the window statistics. The live class is derived from
// the window mean.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	deltas := e.deltas.values()
	errs := e.errs.values()
	e.mu.Unlock()

	if len(deltas) == 0 {
		return Snapshot{Class: ClassUnknown}
	}

	mean, max := meanMax(deltas)
	errMean, errMax := meanMax(errs)

	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	var median int64
	n := len(deltas)
	if n%2 == 1 {
		median = deltas[n/2]
	} else {
		median = (deltas[n/2-1] + deltas[n/2]) / 2
	}

	return Snapshot{
		Samples:        n,
		MeanDelta:      time.Duration(mean),
		MedianDelta:    time.Duration(median),
		MaxDelta:       time.Duration(max),
		MeanSchedError: time.Duration(errMean),
		MaxSchedError:  time.Duration(errMax),
		Class:          Classify(time.Duration(mean)),
	}
}

// Totals returns session-wide aggregates.
func (e *Estimator) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count == 0 {
		return Totals{}
	}
	return Totals{
		Samples:        e.count,
		MeanDelta:      time.Duration(e.deltaSum / e.count),
		WorstDelta:     time.Duration(e.deltaWorst),
		MeanSchedError: time.Duration(e.errSum / e.count),
		WorstSchedErr:  time.Duration(e.errWorst),
	}
}

// Reset clears the window and totals.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deltas = newRing(len(e.deltas.buf))
	e.errs = newRing(len(e.errs.buf))
	e.count, e.deltaSum, e.deltaWorst, e.errSum, e.errWorst = 0, 0, 0, 0, 0
}

func meanMax(vs []int64) (mean, max int64) {
	var sum int64
	for _, v := range vs {
		sum += v
		if v > max {
			max = v
		}
	}
	return sum / int64(len(vs)), max
}
