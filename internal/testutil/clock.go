package testutil

import "sync"

// FakeClock is a manually driven clock.Clock for tests.
//
// Now() only moves when the test (or SleepUntil) moves it, so schedules,
// trigger errors and capture timestamps are exact and repeatable.
//
// SleepUntil jumps straight to the target. Per-call overshoots can be
// queued with Overshoot to simulate a tick that wakes up late.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu         sync.Mutex
	now        int64
	overshoots []int64
	sleeps     []int64
}

// NewFakeClock creates a fake clock reading start.
func NewFakeClock(start int64) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake instant.
func (c *FakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SleepUntil advances the clock to target (plus any queued overshoot).
// A target in the past still consumes one queued overshoot.
func (c *FakeClock) SleepUntil(target int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, target)
	if target > c.now {
		c.now = target
	}
	if len(c.overshoots) > 0 {
		c.now += c.overshoots[0]
		c.overshoots = c.overshoots[1:]
	}
}

// Advance moves the clock forward by ns.
func (c *FakeClock) Advance(ns int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ns
}

// Set moves the clock to an absolute instant. Monotonic: earlier instants are ignored.
func (c *FakeClock) Set(ns int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns > c.now {
		c.now = ns
	}
}

// Overshoot queues lateness (in ns) applied to subsequent SleepUntil calls,
// one value per call.
func (c *FakeClock) Overshoot(ns ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overshoots = append(c.overshoots, ns...)
}

// Sleeps returns every target passed to SleepUntil, in call order.
func (c *FakeClock) Sleeps() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
