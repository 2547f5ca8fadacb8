package sensor

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duofusion/internal/clock"
)

func TestSimulated_Names(t *testing.T) {
	clk := clock.NewPrecision()
	assert.Equal(t, Optical, NewSimulated(SimConfig{Kind: SimOptical}, clk).Name())
	assert.Equal(t, Thermal, NewSimulated(SimConfig{Kind: SimThermal}, clk).Name())
}

func TestSimulated_ConfigureRejectsBadRate(t *testing.T) {
	s := NewSimulated(SimConfig{Kind: SimOptical}, clock.NewPrecision())
	assert.Error(t, s.Configure(context.Background(), Params{Rate: 0}))
	assert.NoError(t, s.Configure(context.Background(), Params{Rate: 8}))
}

func TestSimulated_OpticalProducesJPEG(t *testing.T) {
	clk := clock.NewPrecision()
	s := NewSimulated(SimConfig{Kind: SimOptical}, clk)

	before := clk.Now()
	p, err := s.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Optical, p.Sensor)
	assert.Equal(t, "jpg", p.Ext)
	assert.GreaterOrEqual(t, p.TimestampNS, before)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(p.Data))
	require.NoError(t, err)
	assert.Equal(t, SimOpticalWidth, cfg.Width)
	assert.Equal(t, SimOpticalHeight, cfg.Height)
}

func TestSimulated_ThermalProducesNPY(t *testing.T) {
	s := NewSimulated(SimConfig{Kind: SimThermal}, clock.NewPrecision())

	p, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "npy", p.Ext)

	require.True(t, bytes.HasPrefix(p.Data, []byte("\x93NUMPY\x01\x00")))
	headerLen := int(binary.LittleEndian.Uint16(p.Data[8:10]))
	assert.Zero(t, (10+headerLen)%64, "NPY header must be 64-byte aligned")
	assert.Contains(t, string(p.Data[10:10+headerLen]), "'shape': (62, 80)")
	assert.Len(t, p.Data, 10+headerLen+4*SimThermalRows*SimThermalCols)
}

func TestSimulated_FailEvery(t *testing.T) {
	s := NewSimulated(SimConfig{Kind: SimThermal, FailEvery: 2}, clock.NewPrecision())
	ctx := context.Background()

	_, err := s.Acquire(ctx)
	require.NoError(t, err)

	_, err = s.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, IsHardwareError(err))

	_, err = s.Acquire(ctx)
	require.NoError(t, err)
}

func TestSimulated_ContextDeadlineTimesOut(t *testing.T) {
	s := NewSimulated(SimConfig{Kind: SimOptical, Latency: time.Second}, clock.NewPrecision())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := s.Acquire(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSimulated_ShutdownIdempotent(t *testing.T) {
	s := NewSimulated(SimConfig{Kind: SimOptical}, clock.NewPrecision())
	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	_, err := s.Acquire(context.Background())
	assert.True(t, IsHardwareError(err))
}
