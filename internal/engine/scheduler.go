package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/duofusion/internal/capture"
	"github.com/roach88/duofusion/internal/clock"
	"github.com/roach88/duofusion/internal/quality"
	"github.com/roach88/duofusion/internal/sensor"
)

// DefaultMaxConsecutiveFailures is the per-sensor failure streak that
// aborts a session.
const DefaultMaxConsecutiveFailures = 3

// DefaultStartupMargin delays target[0] so collaborators are warm.
const DefaultStartupMargin = 200 * time.Millisecond

// Capturer triggers both sensors for one tick.
// Implemented by capture.Orchestrator.
type Capturer interface {
	CaptureTick(seq, deadlineNS int64) capture.TickResult
}

// Sink receives finalized records in sequence order.
// Implemented by staging.Writer.
type Sink interface {
	// Submit must not block the control loop.
	Submit(rec FrameRecord)
	// Err returns a non-nil error once the sink has stalled.
	Err() error
}

// Estimator receives per-tick timing of complete captures.
// Implemented by quality.Estimator.
type Estimator interface {
	Observe(deltaNS, schedErrNS int64)
	Snapshot() quality.Snapshot
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithStartupMargin sets the delay between Run and target[0].
func WithStartupMargin(d time.Duration) Option {
	return func(s *Scheduler) {
		s.margin = d
	}
}

// WithMaxConsecutiveFailures sets the per-sensor abort threshold.
func WithMaxConsecutiveFailures(n int) Option {
	return func(s *Scheduler) {
		s.maxFailures = n
	}
}

// WithDuration ends the session once the next target would fall at or
// after start + d. Zero means run until stopped.
func WithDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		s.duration = d
	}
}

// WithStatusFunc registers a callback invoked after every tick from the
// control loop. It must not block.
func WithStatusFunc(fn func(Status)) Option {
	return func(s *Scheduler) {
		s.onStatus = fn
	}
}

// Scheduler is the absolute-time control loop of one session.
//
// Thread-safety:
//   - Run(): must be called from exactly one goroutine, once per session
//   - Stop(), State(), Counts(): safe from any goroutine
type Scheduler struct {
	clk       clock.Clock
	policy    Policy
	capturer  Capturer
	sink      Sink
	estimator Estimator
	seq       *clock.Sequencer
	lifecycle *Lifecycle
	logger    *slog.Logger

	margin      time.Duration
	maxFailures int
	duration    time.Duration
	onStatus    func(Status)

	// names labels failure streaks in errors.
	names [2]string

	stop   atomic.Bool
	counts atomic.Pointer[Counts]
}

// NewScheduler wires the control loop to its collaborators.
func NewScheduler(clk clock.Clock, policy Policy, capturer Capturer, sink Sink, est Estimator, opts ...Option) *Scheduler {
	s := &Scheduler{
		clk:         clk,
		policy:      policy,
		capturer:    capturer,
		sink:        sink,
		estimator:   est,
		seq:         clock.NewSequencer(),
		lifecycle:   NewLifecycle(),
		logger:      slog.Default(),
		margin:      DefaultStartupMargin,
		maxFailures: DefaultMaxConsecutiveFailures,
		names:       [2]string{sensor.Optical, sensor.Thermal},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxFailures <= 0 {
		s.maxFailures = DefaultMaxConsecutiveFailures
	}
	s.counts.Store(&Counts{})
	return s
}

// Stop requests a cooperative stop. The in-flight tick finishes; the loop
// exits at the next tick boundary.
func (s *Scheduler) Stop() {
	s.stop.Store(true)
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	return s.lifecycle.State()
}

// Counts returns a snapshot of the outcome tallies.
func (s *Scheduler) Counts() Counts {
	return *s.counts.Load()
}

// Settle returns a drained or aborted scheduler to Idle once the caller
// has finished flushing persistence.
func (s *Scheduler) Settle() error {
	return s.lifecycle.Transition(StateIdle)
}

// Run drives ticks until Stop, context cancellation, the configured
// duration, or a fatal error. The returned error is a *RecordingError when
// the session aborted; the Result is valid in every case.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	if err := s.lifecycle.Transition(StateRunning); err != nil {
		return Result{State: s.State()}, err
	}

	sched := Schedule{
		Start:    s.clk.Now() + int64(s.margin),
		Interval: int64(s.policy.Interval),
	}
	end := int64(0)
	if s.duration > 0 {
		end = sched.Start + int64(s.duration)
	}

	s.logger.Info("scheduler starting",
		"interval", s.policy.Interval,
		"tolerance_limit", s.policy.ToleranceLimit,
		"start_ns", sched.Start)

	var (
		counts   Counts
		streaks  [2]int
		fatalErr error
	)

	for {
		if s.stop.Load() || ctx.Err() != nil {
			break
		}
		i := s.seq.Current()
		target := sched.Target(i)
		if end > 0 && target >= end {
			break
		}
		if err := s.sink.Err(); err != nil {
			fatalErr = err
			if CodeOf(err) == "" {
				fatalErr = NewStorageStalledError(0, err)
			}
			break
		}

		seq := s.seq.Next()
		rec := s.tick(seq, target, &streaks)

		counts.add(rec)
		c := counts
		s.counts.Store(&c)

		s.sink.Submit(rec)
		s.publish(sched, seq, counts)

		if err := s.persistentFailure(seq, rec, streaks); err != nil {
			fatalErr = err
			break
		}
	}

	res := Result{
		Counts:  counts,
		StartNS: sched.Start,
		EndNS:   s.clk.Now(),
		Frames:  s.seq.Current(),
	}

	if fatalErr != nil {
		_ = s.lifecycle.Transition(StateAborted)
		res.State = StateAborted
		return res, fatalErr
	}
	_ = s.lifecycle.Transition(StateDraining)
	res.State = StateDraining
	s.logger.Info("scheduler stopped",
		"frames", res.Frames,
		"on_time", counts.OnTime,
		"late", counts.Late,
		"dropped", counts.Dropped)
	return res, nil
}

// tick executes one frame: sleep, trigger, capture, classify.
func (s *Scheduler) tick(seq, target int64, streaks *[2]int) FrameRecord {
	s.clk.SleepUntil(target)
	trigger := s.clk.Now()

	rec := FrameRecord{
		Seq:          seq,
		TargetNS:     target,
		TriggerNS:    trigger,
		SchedErrorNS: trigger - target,
	}

	// Already outside the budget: skip capture entirely. Failure streaks
	// are left untouched since neither sensor was asked.
	if s.policy.Classify(rec.SchedErrorNS) == OutcomeDropped {
		rec.Outcome = OutcomeDropped
		rec.DropReason = DropOverrun
		s.logger.Debug("tick overrun", "seq", seq, "sched_error_ns", rec.SchedErrorNS)
		return rec
	}

	res := s.capturer.CaptureTick(seq, target+int64(s.policy.ToleranceLimit))
	for i, sr := range res.Sensors {
		if sr.OK() {
			streaks[i] = 0
			rec.Timestamps[i] = sr.Payload.TimestampNS
			rec.Payloads[i] = sr.Payload
			continue
		}
		streaks[i]++
		rec.SensorErrs[i] = sr.Err
		s.names[i] = sr.Sensor
		s.logger.Warn("sensor missed tick",
			"seq", seq, "sensor", sr.Sensor, "consecutive", streaks[i], "error", sr.Err)
	}

	if !res.Complete() {
		rec.Outcome = OutcomeDropped
		rec.DropReason = DropCaptureFailed
		return rec
	}

	rec.DeltaNS = res.DeltaNS()
	rec.Outcome = s.policy.Classify(rec.SchedErrorNS)
	s.estimator.Observe(rec.DeltaNS, rec.SchedErrorNS)
	return rec
}

func (s *Scheduler) persistentFailure(seq int64, rec FrameRecord, streaks [2]int) error {
	for i, n := range streaks {
		if n >= s.maxFailures {
			return NewPersistentFailureError(s.names[i], seq, n, rec.SensorErrs[i])
		}
	}
	return nil
}

func (s *Scheduler) publish(sched Schedule, seq int64, counts Counts) {
	if s.onStatus == nil {
		return
	}
	s.onStatus(Status{
		State:   StateRunning,
		Seq:     seq,
		Elapsed: time.Duration(s.clk.Now() - sched.Start),
		Counts:  counts,
		Quality: s.estimator.Snapshot(),
	})
}
