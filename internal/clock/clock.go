package clock

import (
	"runtime"
	"time"
)

// Clock is the time source used by the scheduler and capture slots.
// Implemented by Precision (production) and testutil.FakeClock (tests).
type Clock interface {
	// Now returns the current instant in nanoseconds.
	Now() int64

	// SleepUntil blocks until Now() >= targetNS. Returns immediately when
	// the target is already in the past.
	SleepUntil(targetNS int64)
}

// Defaults for the hybrid sleep strategy.
const (
	DefaultSleepThreshold = time.Millisecond
	DefaultSleepMargin    = 500 * time.Microsecond
	DefaultSpinInterval   = 100 * time.Microsecond
)

// Precision is a monotonic nanosecond clock anchored to the wall time at
// construction.
//
// Now() = anchor wall time + monotonic time elapsed since the anchor, so
// values are comparable to Unix nanoseconds but never move backwards when
// the system clock is stepped.
//
// Thread-safety: Precision is immutable after construction and safe for
// concurrent use.
type Precision struct {
	anchor         time.Time
	anchorNS       int64
	sleepThreshold time.Duration
	margin         time.Duration
	spin           time.Duration
}

// Option configures a Precision clock.
type Option func(*Precision)

// WithSleepThreshold sets the remaining-time threshold above which the
// clock uses a coarse time.Sleep before spinning.
func WithSleepThreshold(d time.Duration) Option {
	return func(p *Precision) {
		p.sleepThreshold = d
	}
}

// WithSleepMargin sets how much of the remaining time is left for the spin
// phase after a coarse sleep.
func WithSleepMargin(d time.Duration) Option {
	return func(p *Precision) {
		p.margin = d
	}
}

// WithSpinInterval sets the sleep granularity of the spin phase.
func WithSpinInterval(d time.Duration) Option {
	return func(p *Precision) {
		p.spin = d
	}
}

// NewPrecision creates a Precision clock anchored at the current time.
func NewPrecision(opts ...Option) *Precision {
	now := time.Now()
	p := &Precision{
		anchor:         now,
		anchorNS:       now.UnixNano(),
		sleepThreshold: DefaultSleepThreshold,
		margin:         DefaultSleepMargin,
		spin:           DefaultSpinInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.margin > p.sleepThreshold {
		p.margin = p.sleepThreshold
	}
	return p
}

// Now returns nanoseconds since the Unix epoch, advanced by the monotonic
// reading.
func (p *Precision) Now() int64 {
	return p.anchorNS + int64(time.Since(p.anchor))
}

// SleepUntil blocks until at least targetNS.
//
// Strategy:
//  1. remaining > threshold: time.Sleep(remaining - margin)
//  2. spin: sleep one spin interval at a time while more than one interval
//     remains, then yield until the target passes
//
// Overshoot is bounded by scheduler wake-up latency of the last short
// sleep, well under a millisecond on an idle core.
func (p *Precision) SleepUntil(targetNS int64) {
	remaining := time.Duration(targetNS - p.Now())
	if remaining <= 0 {
		return
	}

	if remaining > p.sleepThreshold {
		time.Sleep(remaining - p.margin)
	}

	for {
		remaining = time.Duration(targetNS - p.Now())
		if remaining <= 0 {
			return
		}
		if remaining > p.spin {
			time.Sleep(p.spin)
			continue
		}
		runtime.Gosched()
	}
}
