package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/duofusion/internal/clock"
	"github.com/roach88/duofusion/internal/sensor"
)

var (
	// ErrSlotBusy is reported for a sensor whose previous acquire has not
	// returned yet.
	ErrSlotBusy = errors.New("capture slot busy with previous tick")

	// ErrClosed is reported for ticks issued after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// DefaultCloseTimeout bounds how long Close waits for in-flight acquires.
const DefaultCloseTimeout = 5 * time.Second

// SensorResult is the outcome of one sensor for one tick.
// Exactly one of Payload and Err is set.
type SensorResult struct {
	Sensor  string
	Payload *sensor.Payload
	Err     error
}

// OK reports whether the sensor delivered a frame.
func (r SensorResult) OK() bool {
	return r.Payload != nil
}

// TickResult is the pair of sensor results for one tick, in port order.
type TickResult struct {
	Seq     int64
	Sensors [2]SensorResult
}

// Complete reports whether both sensors delivered.
func (r TickResult) Complete() bool {
	return r.Sensors[0].OK() && r.Sensors[1].OK()
}

// Partial reports whether exactly one sensor delivered.
func (r TickResult) Partial() bool {
	return r.Sensors[0].OK() != r.Sensors[1].OK()
}

// DeltaNS is the absolute capture-timestamp difference between the two
// sensors. Only meaningful when Complete.
func (r TickResult) DeltaNS() int64 {
	if !r.Complete() {
		return 0
	}
	d := r.Sensors[0].Payload.TimestampNS - r.Sensors[1].Payload.TimestampNS
	if d < 0 {
		d = -d
	}
	return d
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithCloseTimeout sets how long Close waits for slots to exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.closeTimeout = d
	}
}

// Orchestrator fans each tick out to two sensor slots.
//
// Thread-safety: CaptureTick must be called from a single goroutine (the
// scheduler's control loop). Close may be called from any goroutine.
type Orchestrator struct {
	clk          clock.Clock
	slots        [2]*slot
	logger       *slog.Logger
	closeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New starts one slot goroutine per port. Ports are kept in the order
// given; TickResult.Sensors follows the same order.
func New(clk clock.Clock, ports [2]sensor.Port, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		clk:          clk,
		logger:       slog.Default(),
		closeTimeout: DefaultCloseTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(o)
	}

	for i, p := range ports {
		s := &slot{
			port:    p,
			jobs:    make(chan int64, 1),
			results: make(chan slotResult, 1),
		}
		o.slots[i] = s
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			s.run(o.ctx)
		}()
	}
	return o
}

// CaptureTick triggers both sensors for frame seq and waits for their
// results until deadlineNS on the orchestrator's clock.
func (o *Orchestrator) CaptureTick(seq, deadlineNS int64) TickResult {
	res := TickResult{Seq: seq}
	var pending [2]chan slotResult

	for i, s := range o.slots {
		res.Sensors[i].Sensor = s.port.Name()
		if o.closed.Load() {
			res.Sensors[i].Err = ErrClosed
			continue
		}
		if !s.dispatch(seq) {
			res.Sensors[i].Err = ErrSlotBusy
			o.logger.Debug("capture slot busy", "seq", seq, "sensor", s.port.Name())
			continue
		}
		pending[i] = s.results
	}

	wait := time.Duration(deadlineNS - o.clk.Now())
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for pending[0] != nil || pending[1] != nil {
		select {
		case r := <-pending[0]:
			if o.accept(&res, 0, r) {
				pending[0] = nil
			}
		case r := <-pending[1]:
			if o.accept(&res, 1, r) {
				pending[1] = nil
			}
		case <-timer.C:
			for i := range pending {
				if pending[i] != nil {
					res.Sensors[i].Err = fmt.Errorf("%w: no frame before capture deadline", sensor.ErrTimeout)
				}
			}
			return res
		}
	}
	return res
}

func (o *Orchestrator) accept(res *TickResult, i int, r slotResult) bool {
	if r.seq != res.Seq {
		o.logger.Debug("discarding stale capture result",
			"seq", res.Seq, "stale_seq", r.seq, "sensor", res.Sensors[i].Sensor)
		return false
	}
	if r.err != nil {
		res.Sensors[i].Err = r.err
		return true
	}
	p := r.payload
	res.Sensors[i].Payload = &p
	return true
}

// Close stops both slots. In-flight acquires see their context cancelled.
// Close waits at most the close timeout and is idempotent.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.cancel()

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(o.closeTimeout):
			o.closeErr = fmt.Errorf("capture slots did not exit within %s", o.closeTimeout)
		}
	})
	return o.closeErr
}

type slotResult struct {
	seq     int64
	payload sensor.Payload
	err     error
}

// slot serves acquires for one port. At most one job is in flight; the
// dispatcher claims the slot by flipping busy, the slot releases it after
// publishing the result.
type slot struct {
	port    sensor.Port
	busy    atomic.Bool
	jobs    chan int64
	results chan slotResult
}

func (s *slot) dispatch(seq int64) bool {
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	// A result left over from a tick that timed out.
	select {
	case <-s.results:
	default:
	}
	s.jobs <- seq
	return true
}

// jobs and results both have capacity one and the busy flag admits a
// single job at a time, so neither send blocks.
func (s *slot) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seq := <-s.jobs:
			p, err := s.port.Acquire(ctx)
			s.results <- slotResult{seq: seq, payload: p, err: err}
			s.busy.Store(false)
		}
	}
}
