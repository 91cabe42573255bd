package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gotank/pkg/detector"
)

// Params converts the sampling and detector sections into live detector
// parameters.
func (c *Config) Params() detector.Params {
	return detector.Params{
		ThresholdPct:   c.Detector.ThresholdPct,
		MinDeviation:   c.Detector.MinDeviation,
		ConfirmSamples: c.Sensors.ConfirmSamples,
		SettleMs:       millis(c.Detector.SettleDuration),
		SamplePeriodMs: millis(c.Sensors.SamplePeriod),
		DriftStep:      c.Detector.DriftStep,
	}
}

// millis converts d to whole milliseconds, clamped to the uint32 range.
func millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// Store holds the running configuration. Readers on the control loop get
// lock-free snapshots; writers replace the whole configuration.
type Store struct {
	path string

	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Config]
	params  atomic.Pointer[detector.Params]

	onChange []func(*Config)
}

// Ensure Store can drive detectors directly.
var _ detector.ParamsSource = (*Store)(nil)

// NewStore wraps cfg. Updates are persisted to path unless it is empty.
func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.publish(cfg)
	return s
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	return *s.current.Load()
}

// Params implements detector.ParamsSource.
func (s *Store) Params() detector.Params {
	return *s.params.Load()
}

// Mode returns the current control mode.
func (s *Store) Mode() string {
	return s.current.Load().Mode
}

// OnChange registers a callback invoked after every successful update.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Update applies fn to a copy of the configuration, validates the result,
// saves it and makes it current. On error the running configuration is
// left untouched.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	next := *s.current.Load()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	next.ensureDefaults()
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.path != "" {
		if err := next.Save(s.path); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to persist config: %w", err)
		}
	}
	s.publish(&next)
	callbacks := make([]func(*Config), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(&next)
	}
	return nil
}

// SetMode switches between auto and external control.
func (s *Store) SetMode(mode string) error {
	return s.Update(func(c *Config) error {
		c.Mode = ParseMode(mode)
		return nil
	})
}

// ParseMode maps a free-form mode string to a known mode. Anything other
// than "external" selects auto.
func ParseMode(mode string) string {
	if mode == ModeExternal {
		return ModeExternal
	}
	return ModeAuto
}

func (s *Store) publish(cfg *Config) {
	c := *cfg
	p := c.Params()
	s.current.Store(&c)
	s.params.Store(&p)
}
