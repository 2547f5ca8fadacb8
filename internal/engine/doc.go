// Package engine implements the frame scheduler: the absolute-time control
// loop that drives a recording session.
//
// ARCHITECTURE:
//
// Single Control Loop:
// One goroutine (Scheduler.Run) owns the tick sequence. For frame i it:
//  1. observes stop requests and sink health at the tick boundary
//  2. sleeps until target[i] = start + i*interval
//  3. measures the trigger error (actual trigger - target)
//  4. drops the tick without capture if the trigger is already outside
//     the tolerance limit, otherwise captures both sensors
//  5. classifies the outcome and hands the FrameRecord to the estimator
//     and the persistence sink
//
// Targets are absolute. A late or dropped tick never shifts later targets;
// the schedule has no catch-up and no cumulative drift.
//
// Sequence numbers come from a clock.Sequencer and are contiguous: a
// dropped tick still consumes its index and is recorded as dropped.
//
// FAILURE POLICY:
//   - one sensor missing one tick: record dropped with reason
//     capture_failed, session continues
//   - same sensor failing MaxConsecutiveFailures ticks in a row: Aborted,
//     CAPTURE_PERSISTENT_FAILURE
//   - persistence sink reports a stall: Aborted, STORAGE_STALLED
//   - scheduling overrun: dropped with reason overrun, never fatal
package engine
