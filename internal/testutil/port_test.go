package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duofusion/internal/sensor"
)

func TestScriptedPort_ReplaysSteps(t *testing.T) {
	clk := NewFakeClock(1000)
	p := NewScriptedPort("RGB", "jpg", clk,
		Step{OffsetNS: 5},
		Step{Err: errors.New("bus fault")},
	)
	ctx := context.Background()

	payload, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1005), payload.TimestampNS)
	assert.Equal(t, "jpg", payload.Ext)
	assert.Equal(t, []byte("RGB"), payload.Data)

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, sensor.IsHardwareError(err))

	// Script exhausted: Default (success) from here on.
	_, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Calls())
}

func TestScriptedPort_DelayHonorsContext(t *testing.T) {
	p := NewScriptedPort("Thermal", "npy", NewFakeClock(0), Step{Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, sensor.ErrTimeout)
}

func TestScriptedPort_ConfigureAndShutdown(t *testing.T) {
	p := NewScriptedPort("RGB", "jpg", NewFakeClock(0))
	require.NoError(t, p.Configure(context.Background(), sensor.Params{Rate: 8}))

	p.FailConfigure(errors.New("no device"))
	assert.Error(t, p.Configure(context.Background(), sensor.Params{Rate: 8}))
	assert.Equal(t, 2, p.Configured())

	require.NoError(t, p.Shutdown())
	assert.Equal(t, 1, p.Shutdowns())
}
