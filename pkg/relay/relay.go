// Package relay drives the pump relay, either automatically from the full
// sensor or by external command.
package relay

import (
	"fmt"
	"sync"

	"github.com/itohio/gotank/pkg/config"
	"github.com/rs/zerolog"
)

// Output is the physical relay driver.
type Output interface {
	SetRelay(on bool) error
}

// Relay tracks the commanded pump state. It is safe for concurrent use.
type Relay struct {
	out Output
	log zerolog.Logger

	mu sync.Mutex
	on bool
}

// New creates a relay and switches it off.
func New(out Output, log zerolog.Logger) *Relay {
	r := &Relay{
		out: out,
		log: log.With().Str("component", "relay").Logger(),
	}
	if err := out.SetRelay(false); err != nil {
		r.log.Warn().Err(err).Msg("failed to switch relay off")
	}
	return r
}

// Set switches the pump. The state is remembered even when the driver
// fails so the next change retries.
func (r *Relay) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.on = on
	if err := r.out.SetRelay(on); err != nil {
		return fmt.Errorf("failed to set relay: %w", err)
	}
	r.log.Info().Bool("on", on).Msg("relay switched")
	return nil
}

// On returns the commanded pump state.
func (r *Relay) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// ModeSource reports the current control mode.
type ModeSource interface {
	Mode() string
}

// Controller runs the pump in AUTO mode: on while the tank is not full.
type Controller struct {
	Relay *Relay
	Modes ModeSource
}

// Apply updates the pump from the full sensor. It reports whether the
// relay was switched. In EXTERNAL mode it does nothing.
func (c *Controller) Apply(full bool) (bool, error) {
	if c.Modes.Mode() != config.ModeAuto {
		return false, nil
	}
	want := !full
	if want == c.Relay.On() {
		return false, nil
	}
	return true, c.Relay.Set(want)
}
