package detector

// DefaultMaxRaw is the upper bound of a 10-bit ADC sample.
const DefaultMaxRaw = 1023

// Params are the live tuning values read at the start of every cycle.
type Params struct {
	ThresholdPct   float32 // percent of baseline
	MinDeviation   uint16  // absolute threshold floor
	ConfirmSamples uint16  // consecutive qualifying cycles needed to commit
	SettleMs       uint32  // settling window length after a commit
	SamplePeriodMs uint32  // cycle cadence
	DriftStep      uint16  // max baseline move per cycle, 0 disables drift
}

// ParamsSource supplies the current parameters. It may change between cycles.
type ParamsSource interface {
	Params() Params
}

// StaticParams is a ParamsSource that never changes.
type StaticParams Params

// Params implements ParamsSource.
func (p StaticParams) Params() Params { return Params(p) }

// confirmRequired clamps the confirmation count to at least one cycle.
func (p Params) confirmRequired() int {
	if p.ConfirmSamples == 0 {
		return 1
	}
	return int(p.ConfirmSamples)
}
