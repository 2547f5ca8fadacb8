package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/duofusion/internal/clock"
	"github.com/roach88/duofusion/internal/sensor"
)

// Step scripts the outcome of one Acquire call on a ScriptedPort.
type Step struct {
	// Delay blocks the call for real time (use to trigger capture timeouts).
	Delay time.Duration
	// Err fails the call. Wrapped in *sensor.HardwareError unless it is sensor.ErrTimeout.
	Err error
	// OffsetNS is added to the clock reading taken at call start to form
	// the payload timestamp.
	OffsetNS int64
	// Data overrides the payload bytes.
	Data []byte
}

// ScriptedPort is a sensor.Port double that replays a list of steps, one
// per Acquire call. When the script runs out it keeps returning Default.
//
// Thread-safety: safe for concurrent use; Acquire calls are counted.
type ScriptedPort struct {
	name string
	ext  string
	clk  clock.Clock

	mu           sync.Mutex
	steps        []Step
	calls        int
	configureErr error
	configured   int
	shutdowns    int

	// Default is returned once the script is exhausted.
	Default Step
}

// NewScriptedPort creates a scripted port named name producing files with ext.
func NewScriptedPort(name, ext string, clk clock.Clock, steps ...Step) *ScriptedPort {
	return &ScriptedPort{name: name, ext: ext, clk: clk, steps: steps}
}

// FailConfigure makes Configure return err.
func (p *ScriptedPort) FailConfigure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configureErr = err
}

// Name implements sensor.Port.
func (p *ScriptedPort) Name() string { return p.name }

// Configure implements sensor.Port.
func (p *ScriptedPort) Configure(context.Context, sensor.Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured++
	return p.configureErr
}

// Acquire implements sensor.Port.
func (p *ScriptedPort) Acquire(ctx context.Context) (sensor.Payload, error) {
	p.mu.Lock()
	step := p.Default
	if p.calls < len(p.steps) {
		step = p.steps[p.calls]
	}
	p.calls++
	p.mu.Unlock()

	start := p.clk.Now()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return sensor.Payload{}, sensor.ErrTimeout
		case <-timer.C:
		}
	}

	if step.Err != nil {
		if errors.Is(step.Err, sensor.ErrTimeout) {
			return sensor.Payload{}, step.Err
		}
		return sensor.Payload{}, &sensor.HardwareError{Sensor: p.name, Err: step.Err}
	}

	data := step.Data
	if data == nil {
		data = []byte(p.name)
	}
	return sensor.Payload{
		Sensor:      p.name,
		Data:        data,
		Ext:         p.ext,
		TimestampNS: start + step.OffsetNS,
	}, nil
}

// Shutdown implements sensor.Port.
func (p *ScriptedPort) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	return nil
}

// Calls returns the number of Acquire calls made so far.
func (p *ScriptedPort) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Configured returns how many times Configure was called.
func (p *ScriptedPort) Configured() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configured
}

// Shutdowns returns how many times Shutdown was called.
func (p *ScriptedPort) Shutdowns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdowns
}
