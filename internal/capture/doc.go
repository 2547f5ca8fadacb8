// Package capture triggers both sensors for one frame and collects the
// results under a deadline.
//
// The Orchestrator owns two persistent worker slots, one per sensor. Each
// slot is a goroutine started once and reused for every tick, so a tick
// never pays goroutine creation on the hot path.
//
// Per tick:
//  1. Dispatch the tick to both slots (non-blocking).
//  2. Wait for both results until the absolute capture deadline.
//  3. Anything that has not answered is reported as timed out.
//
// A slot whose previous acquire is still running cannot take a new tick;
// it reports ErrSlotBusy for that tick instead of queueing behind the slow
// call. When the slow call eventually returns, its result is tagged with
// the old sequence number and discarded.
package capture
