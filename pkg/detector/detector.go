// Package detector turns a noisy, drifting analog reading into a debounced
// two-state level. Each cycle reduces a burst of raw reads to a median,
// compares it against a baseline-relative threshold, and only commits a state
// change after a run of consistent deviations. After a commit the baseline is
// re-anchored from a short settling window; otherwise it tracks slow drift.
package detector

// State is the committed level of a detector.
type State uint8

const (
	Below State = iota
	Above
)

func (s State) String() string {
	if s == Above {
		return "above"
	}
	return "below"
}

// Output describes the detector after one cycle.
type Output struct {
	State     State
	Baseline  uint16
	Reading   uint16
	Deviation uint16
	Threshold uint16
	Direction Direction
	Settling  bool
	// ConfirmRemaining is the number of further qualifying cycles a commit needs.
	ConfirmRemaining int
	// Committed is set on the cycle the state actually changed.
	Committed bool
}

// Options are fixed at construction time.
type Options struct {
	// MaxRaw is the largest legal raw sample. Zero means DefaultMaxRaw.
	MaxRaw uint16
	// InitialLevel classifies the very first reading: readings at or above it
	// start in Above. Zero starts in Below.
	InitialLevel uint16
}

// Detector owns all per-sensor state. It is not safe for concurrent use; a
// single control loop calls Cycle or Step.
type Detector struct {
	sampler *Sampler
	params  ParamsSource
	maxRaw  uint16
	initial uint16

	started  bool
	state    State
	baseline uint16
	cand     candidate
	settle   settling
	last     Output
}

// New creates a detector. sampler may be nil when readings are fed with Step.
func New(sampler *Sampler, params ParamsSource, opts Options) *Detector {
	if opts.MaxRaw == 0 {
		opts.MaxRaw = DefaultMaxRaw
	}
	return &Detector{
		sampler: sampler,
		params:  params,
		maxRaw:  opts.MaxRaw,
		initial: opts.InitialLevel,
		cand:    candidate{buf: newWindow(ConfirmCapacity)},
		settle:  settling{buf: newWindow(SettleCapacity)},
	}
}

// Cycle samples the source once and advances the detector.
func (d *Detector) Cycle(nowMs uint32) Output {
	return d.Step(nowMs, d.sampler.Sample())
}

// Step advances the detector with an already reduced cycle reading.
func (d *Detector) Step(nowMs uint32, reading uint16) Output {
	p := d.params.Params()
	required := p.confirmRequired()
	if reading > d.maxRaw {
		reading = d.maxRaw
	}

	if !d.started {
		d.started = true
		d.baseline = reading
		d.state = Below
		if d.initial > 0 && reading >= d.initial {
			d.state = Above
		}
		d.last = Output{
			State:            d.state,
			Baseline:         d.baseline,
			Reading:          reading,
			Threshold:        Threshold(d.baseline, p.ThresholdPct, p.MinDeviation),
			ConfirmRemaining: required,
		}
		return d.last
	}

	// Threshold and deviation use the pre-cycle baseline
	threshold := Threshold(d.baseline, p.ThresholdPct, p.MinDeviation)
	signed, deviation := Deviation(reading, d.baseline)

	out := Output{
		Reading:   reading,
		Deviation: deviation,
		Threshold: threshold,
	}

	switch {
	case d.settle.active:
		if b, closed := d.settle.step(nowMs, reading); closed {
			d.baseline = b
		}
	case d.cand.observe(reading, signed, deviation, threshold, required):
		out.Direction = d.cand.dir
		if d.commit(nowMs, p) {
			out.Committed = true
		} else {
			// Same-direction run: nothing changes, the cycle still drifts
			d.baseline = drift(d.baseline, reading, p.DriftStep, d.maxRaw)
		}
		d.cand.reset()
	default:
		out.Direction = d.cand.dir
		d.baseline = drift(d.baseline, reading, p.DriftStep, d.maxRaw)
	}

	out.State = d.state
	out.Baseline = d.baseline
	out.Settling = d.settle.active
	out.ConfirmRemaining = d.cand.remaining(required)
	d.last = out
	return out
}

// commit applies a completed run. It reports whether the state changed.
func (d *Detector) commit(nowMs uint32, p Params) bool {
	next := Below
	if d.cand.dir == DirUp {
		next = Above
	}
	if next == d.state {
		return false
	}
	d.state = next
	d.baseline = clampRaw(int32(d.cand.buf.median()), d.maxRaw)
	d.settle.open(nowMs, p.SettleMs)
	return true
}

// Last returns the output of the most recent cycle.
func (d *Detector) Last() Output { return d.last }

// State returns the committed state.
func (d *Detector) State() State { return d.state }

// Pending returns how many further qualifying cycles the current run needs,
// or zero when no run is in progress.
func (d *Detector) Pending() int {
	if d.cand.count == 0 {
		return 0
	}
	return d.cand.remaining(d.params.Params().confirmRequired())
}
