package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duofusion/internal/capture"
	"github.com/roach88/duofusion/internal/quality"
	"github.com/roach88/duofusion/internal/sensor"
	"github.com/roach88/duofusion/internal/testutil"
)

const epoch = int64(1_000_000_000_000)

type recordingSink struct {
	mu         sync.Mutex
	recs       []FrameRecord
	stallAfter int
}

func (s *recordingSink) Submit(r FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
}

func (s *recordingSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stallAfter > 0 && len(s.recs) >= s.stallAfter {
		return NewStorageStalledError(10, errors.New("read-only file system"))
	}
	return nil
}

func (s *recordingSink) records() []FrameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FrameRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

// fakeCapturer answers each tick with fn(seq); timestamps come from the clock.
type fakeCapturer struct {
	clk       *testutil.FakeClock
	fail      func(seq int64) [2]error
	deltaNS   int64
	calls     int
	deadlines []int64
}

func (c *fakeCapturer) CaptureTick(seq, deadlineNS int64) capture.TickResult {
	c.calls++
	c.deadlines = append(c.deadlines, deadlineNS)

	var errs [2]error
	if c.fail != nil {
		errs = c.fail(seq)
	}
	names := [2]string{sensor.Optical, sensor.Thermal}
	res := capture.TickResult{Seq: seq}
	now := c.clk.Now()
	for i := range res.Sensors {
		res.Sensors[i].Sensor = names[i]
		if errs[i] != nil {
			res.Sensors[i].Err = errs[i]
			continue
		}
		res.Sensors[i].Payload = &sensor.Payload{
			Sensor:      names[i],
			Data:        []byte(names[i]),
			Ext:         "bin",
			TimestampNS: now + int64(i)*c.deltaNS,
		}
	}
	return res
}

func failing(sensors ...int) func(int64) [2]error {
	return func(int64) [2]error {
		var errs [2]error
		for _, i := range sensors {
			errs[i] = &sensor.HardwareError{Sensor: "x", Err: errors.New("bus reset")}
		}
		return errs
	}
}

func newScheduler(t *testing.T, clk *testutil.FakeClock, rate int, capt Capturer, sink Sink, opts ...Option) *Scheduler {
	t.Helper()
	policy, err := NewPolicy(rate, 1.2, time.Millisecond)
	require.NoError(t, err)
	opts = append([]Option{WithStartupMargin(0)}, opts...)
	return NewScheduler(clk, policy, capt, sink, quality.New(50), opts...)
}

func TestRun_ContiguousSequence(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk, deltaNS: int64(2 * time.Millisecond)}
	sink := &recordingSink{}

	s := newScheduler(t, clk, 10, capt, sink, WithDuration(time.Second))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	recs := sink.records()
	require.Len(t, recs, 10)
	for i, r := range recs {
		assert.Equal(t, int64(i), r.Seq)
		assert.Equal(t, epoch+int64(i)*int64(100*time.Millisecond), r.TargetNS)
		assert.Equal(t, OutcomeOnTime, r.Outcome)
		assert.Equal(t, int64(2*time.Millisecond), r.DeltaNS)
		assert.NotNil(t, r.Payloads[0])
		assert.NotNil(t, r.Payloads[1])
	}

	assert.Equal(t, StateDraining, res.State)
	assert.Equal(t, StateDraining, s.State())
	assert.Equal(t, int64(10), res.Frames)
	assert.Equal(t, Counts{Total: 10, OnTime: 10}, res.Counts)
	assert.Equal(t, res.Counts, s.Counts())

	require.NoError(t, s.Settle())
	assert.Equal(t, StateIdle, s.State())
}

func TestRun_CaptureDeadlineIsTargetPlusLimit(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk}
	sink := &recordingSink{}

	s := newScheduler(t, clk, 8, capt, sink, WithDuration(250*time.Millisecond))
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	limit := int64(150 * time.Millisecond)
	assert.Equal(t, []int64{epoch + limit, epoch + int64(125*time.Millisecond) + limit}, capt.deadlines)
}

func TestRun_DropBoundary(t *testing.T) {
	limit := int64(150 * time.Millisecond)

	tests := []struct {
		name      string
		overshoot int64
		outcome   Outcome
		reason    DropReason
		captured  bool
	}{
		{"exactly at limit is accepted", limit, OutcomeLate, DropNone, true},
		{"one nanosecond past limit is dropped", limit + 1, OutcomeDropped, DropOverrun, false},
		{"under late threshold is on time", int64(time.Millisecond) - 1, OutcomeOnTime, DropNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := testutil.NewFakeClock(epoch)
			clk.Overshoot(tt.overshoot)
			capt := &fakeCapturer{clk: clk}
			sink := &recordingSink{}

			// One interval: exactly one tick.
			s := newScheduler(t, clk, 8, capt, sink, WithDuration(125*time.Millisecond))
			_, err := s.Run(context.Background())
			require.NoError(t, err)

			recs := sink.records()
			require.Len(t, recs, 1)
			assert.Equal(t, tt.overshoot, recs[0].SchedErrorNS)
			assert.Equal(t, tt.outcome, recs[0].Outcome)
			assert.Equal(t, tt.reason, recs[0].DropReason)
			assert.Equal(t, tt.captured, capt.calls == 1)
			if !tt.captured {
				assert.Nil(t, recs[0].Payloads[0])
				assert.Nil(t, recs[0].Payloads[1])
				assert.Zero(t, recs[0].Timestamps[0])
			}
		})
	}
}

func TestRun_NoCascade(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	interval := int64(100 * time.Millisecond)
	// Tick 3 wakes 400ms late. Ticks 4 and 5 are still outside the 120ms
	// limit, tick 6 triggers 100ms late and is accepted.
	clk.Overshoot(0, 0, 0, 4*interval)
	capt := &fakeCapturer{clk: clk}
	sink := &recordingSink{}

	s := newScheduler(t, clk, 10, capt, sink, WithDuration(time.Second))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	var want []int64
	for i := int64(0); i < 10; i++ {
		want = append(want, epoch+i*interval)
	}
	assert.Equal(t, want, clk.Sleeps())

	recs := sink.records()
	require.Len(t, recs, 10)
	outcomes := make([]Outcome, len(recs))
	for i, r := range recs {
		outcomes[i] = r.Outcome
		assert.Equal(t, want[i], r.TargetNS)
	}
	assert.Equal(t, []Outcome{
		OutcomeOnTime, OutcomeOnTime, OutcomeOnTime,
		OutcomeDropped, OutcomeDropped, OutcomeDropped,
		OutcomeLate,
		OutcomeOnTime, OutcomeOnTime, OutcomeOnTime,
	}, outcomes)
	assert.Equal(t, int64(3), res.Counts.Dropped)
	assert.Equal(t, int64(1), res.Counts.Late)
	assert.Zero(t, res.Counts.Failed)
}

func TestRun_PartialCaptureKeepsSurvivor(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk, fail: func(seq int64) [2]error {
		if seq == 1 {
			return failing(1)(seq)
		}
		return [2]error{}
	}}
	sink := &recordingSink{}
	est := quality.New(50)

	policy, err := NewPolicy(10, 1.2, time.Millisecond)
	require.NoError(t, err)
	s := NewScheduler(clk, policy, capt, sink, est, WithStartupMargin(0), WithDuration(300*time.Millisecond))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	recs := sink.records()
	require.Len(t, recs, 3)
	r := recs[1]
	assert.Equal(t, OutcomeDropped, r.Outcome)
	assert.Equal(t, DropCaptureFailed, r.DropReason)
	assert.NotNil(t, r.Payloads[0])
	assert.Nil(t, r.Payloads[1])
	assert.NotZero(t, r.Timestamps[0])
	assert.Zero(t, r.Timestamps[1])
	assert.Nil(t, r.SensorErrs[0])
	assert.True(t, sensor.IsHardwareError(r.SensorErrs[1]))
	assert.Zero(t, r.DeltaNS)

	assert.Equal(t, Counts{Total: 3, OnTime: 2, Dropped: 1, Failed: 1}, res.Counts)
	// Only complete captures feed the estimator.
	assert.Equal(t, 2, est.Snapshot().Samples)
}

func TestRun_PersistentFailureAborts(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk, fail: failing(1)}
	sink := &recordingSink{}

	s := newScheduler(t, clk, 10, capt, sink, WithMaxConsecutiveFailures(3))
	res, err := s.Run(context.Background())

	require.Error(t, err)
	assert.True(t, IsPersistentFailure(err))
	var re *RecordingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, sensor.Thermal, re.Sensor)
	assert.Equal(t, int64(2), re.Seq)

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, StateAborted, s.State())
	// The failing tick itself is still persisted.
	assert.Len(t, sink.records(), 3)

	require.NoError(t, s.Settle())
}

func TestRun_FailureStreaksArePerSensor(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	// Sensors take turns failing; neither reaches two in a row.
	capt := &fakeCapturer{clk: clk, fail: func(seq int64) [2]error {
		return failing(int(seq % 2))(seq)
	}}
	sink := &recordingSink{}

	s := newScheduler(t, clk, 10, capt, sink,
		WithMaxConsecutiveFailures(2), WithDuration(time.Second))
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Counts.Failed)
}

func TestRun_OverrunDoesNotResetStreak(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	interval := int64(100 * time.Millisecond)
	// Tick 1 overruns by two intervals; tick 2 then triggers 100ms late,
	// inside the 120ms limit.
	clk.Overshoot(0, 2*interval)
	capt := &fakeCapturer{clk: clk, fail: failing(1)}
	sink := &recordingSink{}

	s := newScheduler(t, clk, 10, capt, sink, WithMaxConsecutiveFailures(2))
	_, err := s.Run(context.Background())

	require.True(t, IsPersistentFailure(err))
	recs := sink.records()
	require.Len(t, recs, 3)
	assert.Equal(t, DropCaptureFailed, recs[0].DropReason)
	assert.Equal(t, DropOverrun, recs[1].DropReason)
	assert.Equal(t, DropCaptureFailed, recs[2].DropReason)
	assert.Equal(t, 2, capt.calls)
}

func TestRun_StorageStallAborts(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk}
	sink := &recordingSink{stallAfter: 4}

	s := newScheduler(t, clk, 10, capt, sink)
	res, err := s.Run(context.Background())

	require.True(t, IsStorageStalled(err))
	assert.Equal(t, StateAborted, res.State)
	assert.Len(t, sink.records(), 4)
}

func TestRun_StopIsCooperative(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk}
	sink := &recordingSink{}

	var s *Scheduler
	var statuses []Status
	s = newScheduler(t, clk, 10, capt, sink, WithStatusFunc(func(st Status) {
		statuses = append(statuses, st)
		if st.Seq == 4 {
			s.Stop()
		}
	}))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDraining, res.State)
	assert.Len(t, sink.records(), 5)

	require.Len(t, statuses, 5)
	last := statuses[4]
	assert.Equal(t, StateRunning, last.State)
	assert.Equal(t, int64(4), last.Seq)
	assert.Equal(t, int64(5), last.Counts.Total)
	assert.Equal(t, 5, last.Quality.Samples)
	assert.Equal(t, quality.ClassExcellent, last.Quality.Class)
	assert.Equal(t, 400*time.Millisecond, last.Elapsed)
}

func TestRun_ContextCancelStops(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	capt := &fakeCapturer{clk: clk}
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newScheduler(t, clk, 10, capt, sink, WithStatusFunc(func(st Status) {
		if st.Seq == 2 {
			cancel()
		}
	}))

	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Frames)
}

func TestRun_RejectsSecondRun(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	s := newScheduler(t, clk, 10, &fakeCapturer{clk: clk}, &recordingSink{}, WithDuration(100*time.Millisecond))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_WithOrchestrator(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	rgb := testutil.NewScriptedPort(sensor.Optical, "jpg", clk)
	th := testutil.NewScriptedPort(sensor.Thermal, "npy", clk)
	th.Default = testutil.Step{OffsetNS: int64(7 * time.Millisecond)}

	orch := capture.New(clk, [2]sensor.Port{rgb, th})
	defer orch.Close()

	sink := &recordingSink{}
	est := quality.New(50)
	policy, err := NewPolicy(25, 1.2, time.Millisecond)
	require.NoError(t, err)

	s := NewScheduler(clk, policy, orch, sink, est,
		WithStartupMargin(200*time.Millisecond), WithDuration(200*time.Millisecond))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Counts{Total: 5, OnTime: 5}, res.Counts)
	assert.Equal(t, epoch+int64(200*time.Millisecond), res.StartNS)
	for _, r := range sink.records() {
		assert.Equal(t, int64(7*time.Millisecond), r.DeltaNS)
	}
	assert.Equal(t, quality.ClassGood, est.Snapshot().Class)
}
