// Package sample records controller telemetry: one Sample per control
// cycle, optionally averaged, kept in a time-windowed History that also
// tracks level transitions.
package sample

import (
	"time"

	"github.com/itohio/gotank/pkg/detector"
)

// Probe is the detector view of one analog probe.
type Probe struct {
	Reading   uint16 `json:"reading"`
	Baseline  uint16 `json:"baseline"`
	Threshold uint16 `json:"threshold"`
	Deviation uint16 `json:"deviation"`
	Above     bool   `json:"above"`
	Settling  bool   `json:"settling"`
}

// Sample is the controller state at the end of one cycle.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Level     uint8     `json:"level"`
	Error     bool      `json:"error"`
	Pump      bool      `json:"pump"`
	Probes    []Probe   `json:"probes,omitempty"`
}

// Converter transforms a stream of samples.
type Converter func(in <-chan Sample) <-chan Sample

// NewProbe extracts telemetry from a detector cycle.
func NewProbe(out detector.Output) Probe {
	return Probe{
		Reading:   out.Reading,
		Baseline:  out.Baseline,
		Threshold: out.Threshold,
		Deviation: out.Deviation,
		Above:     out.State == detector.Above,
		Settling:  out.Settling,
	}
}
