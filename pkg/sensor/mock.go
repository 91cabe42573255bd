package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/gotank/pkg/config"
	"github.com/itohio/gotank/pkg/detector"
)

// Probe heights of the simulated tank, in percent of full.
const (
	mockProbe50  = 50.0
	mockProbe100 = 97.0
)

// Mock simulates a tank with two probes and a pump for testing and
// development. The pump fills the tank while the relay is on; the tank
// drains continuously.
type Mock struct {
	store

	cfg    *config.MockConfig
	rng    *rand.Rand
	maxRaw uint16

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	// Simulation state
	level   float64 // percent
	elapsed float64 // simulated seconds
	drift   float64 // raw counts
	pump  bool
	led   uint16
}

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

// NewMock creates a new simulated device whose sensor readings stay within
// [0, maxRaw]. A zero maxRaw selects the 10-bit default.
func NewMock(cfg *config.MockConfig, maxRaw uint16) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	if maxRaw == 0 || maxRaw > MaxRaw {
		maxRaw = detector.DefaultMaxRaw
	}

	return &Mock{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(1)),
		maxRaw: maxRaw,
		level:  cfg.InitialLevel,
	}
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.connected = true
	// Prime the buffers so the first cycle sees a real reading
	m.put(m.frameLocked(time.Now()))

	go m.generate(ctx, m.done)

	return nil
}

// Close stops the simulation.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	done := m.done
	m.mu.Unlock()

	<-done
	return nil
}

// Analog returns a raw sample reader for an analog channel.
func (m *Mock) Analog(ch int) detector.Reader { return m.analogReader(ch) }

// Digital returns the simulated level of a digital input.
func (m *Mock) Digital(ch int) Pin { return m.digitalPin(ch) }

// SetRelay switches the simulated pump.
func (m *Mock) SetRelay(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.pump = on
	return nil
}

// SetLED records the status LED duty.
func (m *Mock) SetLED(duty uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.led = duty
	return nil
}

// LED returns the last LED duty written.
func (m *Mock) LED() uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.led
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Level returns the simulated fill level in percent.
func (m *Mock) Level() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// SetLevel overrides the simulated fill level.
func (m *Mock) SetLevel(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = clampPct(pct)
}

func (m *Mock) generate(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.put(m.step(now.Sub(last), now))
			last = now
		}
	}
}

// step moves the simulation forward by dt and renders a frame at now.
func (m *Mock) step(dt time.Duration, now time.Time) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advanceLocked(dt)
	return m.frameLocked(now)
}

func (m *Mock) advanceLocked(dt time.Duration) {
	sec := dt.Seconds()
	rate := -m.cfg.DrainRate
	if m.pump {
		rate += m.cfg.FillRate
	}
	m.level = clampPct(m.level + rate*sec)
	m.elapsed += sec
	m.drift = triangle(m.cfg.DriftPerMin*m.elapsed/60, m.cfg.DriftLimit)
}

// triangle folds x into a wave that ramps between -limit and +limit at
// unit slope, starting at zero.
func triangle(x, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	p := math.Mod(math.Abs(x), 4*limit)
	switch {
	case p < limit:
	case p < 3*limit:
		p = 2*limit - p
	default:
		p -= 4 * limit
	}
	if x < 0 {
		return -p
	}
	return p
}

// frameLocked renders the current simulation state as a bridge frame.
func (m *Mock) frameLocked(now time.Time) Frame {
	wet50 := m.level >= mockProbe50
	wet100 := m.level >= mockProbe100

	return Frame{
		Timestamp: now,
		Analog: [AnalogChannels]uint16{
			m.raw(wet50),
			m.raw(wet100),
		},
		Digital: [DigitalInputs]bool{wet50, wet100, true},
		Relay:   m.pump,
	}
}

// raw returns a noisy reading for a dry or submerged sensor.
// Must be called with m.mu held.
func (m *Mock) raw(wet bool) uint16 {
	v := float64(m.cfg.DryRaw)
	if wet {
		v = float64(m.cfg.WetRaw)
	}
	v += m.drift
	if n := int(m.cfg.NoiseLevel); n > 0 {
		v += float64(m.rng.Intn(2*n+1) - n)
	}
	if v < 0 {
		v = 0
	} else if v > float64(m.maxRaw) {
		v = float64(m.maxRaw)
	}
	return uint16(v)
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
