// Package clock provides the nanosecond time source the recorder schedules
// against.
//
// Two things live here:
//
//   - Clock / Precision: "now" in nanoseconds plus SleepUntil, a
//     coarse-sleep-then-spin wait that bounds overshoot past an absolute
//     target to a sub-millisecond margin.
//   - Sequencer: the monotonic zero-based frame index counter.
//
// All scheduling math is done on absolute int64 nanosecond instants.
// Durations between instants are plain int64 subtraction; nothing here
// depends on wall-clock adjustments after construction.
package clock
