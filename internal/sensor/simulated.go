package sensor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/roach88/duofusion/internal/clock"
)

// Simulated frame geometry, matching the original hardware.
const (
	SimOpticalWidth  = 640
	SimOpticalHeight = 640
	SimThermalCols   = 80
	SimThermalRows   = 62
)

// SimKind selects what a Simulated port produces.
type SimKind int

const (
	// SimOptical produces JPEG gradients.
	SimOptical SimKind = iota
	// SimThermal produces NPY float32 temperature arrays.
	SimThermal
)

// SimConfig configures a Simulated port.
type SimConfig struct {
	Kind SimKind
	// Latency is the nominal acquisition time.
	Latency time.Duration
	// Jitter is the maximum extra latency added uniformly at random.
	Jitter time.Duration
	// FailEvery makes every Nth acquire fail with a hardware error (0 = never).
	FailEvery int
	// Seed seeds the jitter source.
	Seed int64
}

// Simulated is a Port backed by a synthetic frame generator. It lets the
// recorder run end to end on a bench machine without the camera or the
// thermal array attached.
type Simulated struct {
	cfg   SimConfig
	clk   clock.Clock
	name  string
	ext   string
	calls int

	mu  sync.Mutex
	rng *rand.Rand

	configured bool
	closed     bool
}

// NewSimulated creates a simulated port that timestamps frames with clk.
func NewSimulated(cfg SimConfig, clk clock.Clock) *Simulated {
	s := &Simulated{
		cfg: cfg,
		clk: clk,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	switch cfg.Kind {
	case SimThermal:
		s.name, s.ext = Thermal, "npy"
	default:
		s.name, s.ext = Optical, "jpg"
	}
	return s
}

// Name implements Port.
func (s *Simulated) Name() string { return s.name }

// Configure implements Port.
func (s *Simulated) Configure(_ context.Context, params Params) error {
	if params.Rate <= 0 {
		return fmt.Errorf("sensor %s: invalid rate %d", s.name, params.Rate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = true
	return nil
}

// Acquire implements Port.
func (s *Simulated) Acquire(ctx context.Context) (Payload, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Payload{}, &HardwareError{Sensor: s.name, Err: errors.New("port shut down")}
	}
	s.calls++
	call := s.calls
	latency := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		latency += time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
	}
	s.mu.Unlock()

	start := s.clk.Now()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Payload{}, ErrTimeout
		case <-timer.C:
		}
	}

	if s.cfg.FailEvery > 0 && call%s.cfg.FailEvery == 0 {
		return Payload{}, &HardwareError{Sensor: s.name, Err: fmt.Errorf("simulated fault on call %d", call)}
	}

	var data []byte
	var err error
	switch s.cfg.Kind {
	case SimThermal:
		data = encodeNPY(thermalField(call), SimThermalRows, SimThermalCols)
	default:
		data, err = encodeGradient(call)
	}
	if err != nil {
		return Payload{}, &HardwareError{Sensor: s.name, Err: err}
	}

	return Payload{Sensor: s.name, Data: data, Ext: s.ext, TimestampNS: start}, nil
}

// Shutdown implements Port.
func (s *Simulated) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// encodeGradient renders a moving gradient so consecutive frames differ.
func encodeGradient(frame int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, SimOpticalWidth, SimOpticalHeight))
	shift := frame * 8
	for y := 0; y < SimOpticalHeight; y++ {
		for x := 0; x < SimOpticalWidth; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + shift) % 256),
				G: uint8((y + shift) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// thermalField returns a warm blob drifting over a 22°C background.
func thermalField(frame int) []float32 {
	field := make([]float32, SimThermalRows*SimThermalCols)
	cx := float64(frame%SimThermalCols) + 0.5
	cy := float64(SimThermalRows) / 2
	for r := 0; r < SimThermalRows; r++ {
		for c := 0; c < SimThermalCols; c++ {
			d2 := (float64(c)-cx)*(float64(c)-cx) + (float64(r)-cy)*(float64(r)-cy)
			field[r*SimThermalCols+c] = float32(22 + 14*math.Exp(-d2/60))
		}
	}
	return field
}

// encodeNPY writes a row-major float32 array in NPY format version 1.0.
func encodeNPY(values []float32, rows, cols int) []byte {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", rows, cols)
	// magic(6) + version(2) + header_len(2) + header + '\n' must be a multiple of 64.
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += string(bytes.Repeat([]byte{' '}, pad)) + "\n"

	var buf bytes.Buffer
	buf.Grow(10 + len(header) + 4*len(values))
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	_ = binary.Write(&buf, binary.LittleEndian, values)
	return buf.Bytes()
}
