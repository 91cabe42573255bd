// Package level turns the two tank sensors (half and full) into a tank
// level and an inconsistency flag. Sensors are either adaptive analog
// probes driven by a detector or debounced digital float switches.
package level

import (
	"github.com/itohio/gotank/pkg/cadence"
	"github.com/itohio/gotank/pkg/detector"
	"github.com/itohio/gotank/pkg/sensor"
)

// Level of the tank in percent.
type Level uint8

const (
	Empty Level = 0
	Half  Level = 50
	Full  Level = 100
)

// Combine derives the tank level from the two sensors. The error flag is
// raised when the upper sensor is active while the lower one is not.
func Combine(s50, s100 bool) (Level, bool) {
	lvl := Empty
	switch {
	case s100:
		lvl = Full
	case s50:
		lvl = Half
	}
	return lvl, s100 && !s50
}

// Input is one level sensor, polled once per sample period.
type Input interface {
	Poll(nowMs uint32) bool
	Active() bool
	// Pending returns how many further samples a pending change needs,
	// zero when the input is stable.
	Pending() int
}

// Analog is a probe evaluated by the adaptive detector.
type Analog struct {
	Detector *detector.Detector
	// TrueHigh makes the sensor active while the detector reports Above.
	TrueHigh bool
}

// Poll runs one detector cycle.
func (a *Analog) Poll(nowMs uint32) bool {
	a.Detector.Cycle(nowMs)
	return a.Active()
}

// Active reports the sensor state after the last cycle.
func (a *Analog) Active() bool {
	return (a.Detector.State() == detector.Above) == a.TrueHigh
}

// Pending implements Input.
func (a *Analog) Pending() int { return a.Detector.Pending() }

// Output returns the detector output of the last cycle.
func (a *Analog) Output() detector.Output { return a.Detector.Last() }

// Digital is a debounced float switch.
type Digital struct {
	Logic sensor.Logic
	// Confirm returns the number of consecutive samples a change needs.
	Confirm func() int

	debounce sensor.Debouncer
}

// Poll samples the switch.
func (d *Digital) Poll(uint32) bool {
	return d.debounce.Update(d.Logic.Active(), d.confirm())
}

// Pending implements Input.
func (d *Digital) Pending() int { return d.debounce.Pending(d.confirm()) }

func (d *Digital) confirm() int {
	if d.Confirm == nil {
		return 1
	}
	return d.Confirm()
}

// Active reports the debounced state.
func (d *Digital) Active() bool { return d.debounce.State() }

// Monitor samples both sensors at the configured cadence.
type Monitor struct {
	S50, S100 Input
	// Period returns the sample period in milliseconds.
	Period func() uint32

	ticker cadence.Ticker
	level  Level
	err    bool
}

// Tick samples the sensors when a period has elapsed and reports whether
// it did.
func (m *Monitor) Tick(nowMs uint32) bool {
	if !m.ticker.Due(nowMs, m.Period()) {
		return false
	}
	s50 := m.S50.Poll(nowMs)
	s100 := m.S100.Poll(nowMs)
	m.level, m.err = Combine(s50, s100)
	return true
}

// Level returns the combined level after the last sample.
func (m *Monitor) Level() Level { return m.level }

// Error reports the inconsistent-sensor flag after the last sample.
func (m *Monitor) Error() bool { return m.err }

// Pending returns the samples each sensor still needs to confirm a change.
func (m *Monitor) Pending() (s50, s100 int) {
	return m.S50.Pending(), m.S100.Pending()
}

// Probes returns detector outputs of analog inputs, lower sensor first.
func (m *Monitor) Probes() []detector.Output {
	var out []detector.Output
	for _, in := range []Input{m.S50, m.S100} {
		if a, ok := in.(*Analog); ok {
			out = append(out, a.Output())
		}
	}
	return out
}
