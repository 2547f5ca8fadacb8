package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duofusion/internal/sensor"
	"github.com/roach88/duofusion/internal/testutil"
)

const start = int64(1_700_000_000_000_000_000)

func newPorts(clk *testutil.FakeClock) (*testutil.ScriptedPort, *testutil.ScriptedPort) {
	return testutil.NewScriptedPort(sensor.Optical, "jpg", clk),
		testutil.NewScriptedPort(sensor.Thermal, "npy", clk)
}

func TestCaptureTick_BothSensors(t *testing.T) {
	clk := testutil.NewFakeClock(start)
	rgb, th := newPorts(clk)
	th.Default = testutil.Step{OffsetNS: int64(3 * time.Millisecond)}

	o := New(clk, [2]sensor.Port{rgb, th})
	defer o.Close()

	res := o.CaptureTick(0, clk.Now()+int64(time.Second))

	require.True(t, res.Complete())
	assert.False(t, res.Partial())
	assert.Equal(t, int64(0), res.Seq)
	assert.Equal(t, sensor.Optical, res.Sensors[0].Sensor)
	assert.Equal(t, sensor.Thermal, res.Sensors[1].Sensor)
	assert.Equal(t, start, res.Sensors[0].Payload.TimestampNS)
	assert.Equal(t, start+int64(3*time.Millisecond), res.Sensors[1].Payload.TimestampNS)
	assert.Equal(t, int64(3*time.Millisecond), res.DeltaNS())
}

func TestCaptureTick_HardwareFailureIsPartial(t *testing.T) {
	clk := testutil.NewFakeClock(start)
	rgb, th := newPorts(clk)
	th.Default = testutil.Step{Err: errors.New("i2c nack")}

	o := New(clk, [2]sensor.Port{rgb, th})
	defer o.Close()

	res := o.CaptureTick(0, clk.Now()+int64(time.Second))

	assert.True(t, res.Partial())
	assert.False(t, res.Complete())
	assert.True(t, res.Sensors[0].OK())
	assert.True(t, sensor.IsHardwareError(res.Sensors[1].Err))
	assert.Zero(t, res.DeltaNS())
}

func TestCaptureTick_DeadlineTimesOut(t *testing.T) {
	clk := testutil.NewFakeClock(start)
	rgb, th := newPorts(clk)
	th.Default = testutil.Step{Delay: 2 * time.Second}

	o := New(clk, [2]sensor.Port{rgb, th})
	defer o.Close()

	began := time.Now()
	res := o.CaptureTick(0, clk.Now()+int64(30*time.Millisecond))

	assert.Less(t, time.Since(began), time.Second)
	assert.True(t, res.Sensors[0].OK())
	require.Error(t, res.Sensors[1].Err)
	assert.ErrorIs(t, res.Sensors[1].Err, sensor.ErrTimeout)
}

func TestCaptureTick_BusySlotIsNotRetried(t *testing.T) {
	clk := testutil.NewFakeClock(start)
	rgb, th := newPorts(clk)
	th.Default = testutil.Step{Data: []byte("fresh")}
	slow := testutil.NewScriptedPort(sensor.Thermal, "npy", clk,
		testutil.Step{Delay: 200 * time.Millisecond, Data: []byte("stale")})
	slow.Default = th.Default

	o := New(clk, [2]sensor.Port{rgb, slow})
	defer o.Close()

	res := o.CaptureTick(0, clk.Now()+int64(20*time.Millisecond))
	require.ErrorIs(t, res.Sensors[1].Err, sensor.ErrTimeout)

	res = o.CaptureTick(1, clk.Now()+int64(20*time.Millisecond))
	assert.ErrorIs(t, res.Sensors[1].Err, ErrSlotBusy)
	assert.True(t, res.Sensors[0].OK())
	assert.Equal(t, 1, slow.Calls())

	// The slow acquire finishes; its result belongs to tick 0 and must not
	// leak into a later tick.
	time.Sleep(300 * time.Millisecond)

	res = o.CaptureTick(2, clk.Now()+int64(time.Second))
	require.True(t, res.Complete())
	assert.Equal(t, []byte("fresh"), res.Sensors[1].Payload.Data)
	assert.Equal(t, 2, slow.Calls())
}

func TestCaptureTick_SlotsReused(t *testing.T) {
	clk := testutil.NewFakeClock(start)
	rgb, th := newPorts(clk)

	o := New(clk, [2]sensor.Port{rgb, th})
	defer o.Close()

	for seq := int64(0); seq < 25; seq++ {
		res := o.CaptureTick(seq, clk.Now()+int64(time.Second))
		require.True(t, res.Complete(), "seq %d", seq)
		assert.Equal(t, seq, res.Seq)
		clk.Advance(int64(80 * time.Millisecond))
	}
	assert.Equal(t, 25, rgb.Calls())
	assert.Equal(t, 25, th.Calls())
}

func TestClose(t *testing.T) {
	clk := testutil.NewFakeClock(start)
	rgb, th := newPorts(clk)
	th.Default = testutil.Step{Delay: time.Minute}

	o := New(clk, [2]sensor.Port{rgb, th}, WithCloseTimeout(time.Second))

	res := o.CaptureTick(0, clk.Now()+int64(10*time.Millisecond))
	require.ErrorIs(t, res.Sensors[1].Err, sensor.ErrTimeout)

	// The in-flight acquire observes cancellation.
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	res = o.CaptureTick(1, clk.Now()+int64(10*time.Millisecond))
	assert.ErrorIs(t, res.Sensors[0].Err, ErrClosed)
	assert.ErrorIs(t, res.Sensors[1].Err, ErrClosed)
}
