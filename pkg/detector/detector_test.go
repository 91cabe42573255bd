package detector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioParams matches the reference tuning: 2% of baseline, floor 15,
// three confirmations, 5s settling, drift 1 per cycle at 1s cadence.
func scenarioParams() StaticParams {
	return StaticParams{
		ThresholdPct:   2,
		MinDeviation:   15,
		ConfirmSamples: 3,
		SettleMs:       5000,
		SamplePeriodMs: 1000,
		DriftStep:      1,
	}
}

// feed steps d with readings at 1s intervals starting at *now.
func feed(d *Detector, now *uint32, readings ...uint16) []Output {
	outs := make([]Output, 0, len(readings))
	for _, r := range readings {
		outs = append(outs, d.Step(*now, r))
		*now += 1000
	}
	return outs
}

func TestDetector_FirstReadingInitializes(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	out := d.Step(0, 500)

	assert.Equal(t, Below, out.State)
	assert.Equal(t, uint16(500), out.Baseline)
	assert.Equal(t, uint16(15), out.Threshold)
	assert.Equal(t, 3, out.ConfirmRemaining)
	assert.False(t, out.Committed)
}

func TestDetector_InitialLevelClassifiesFirstReading(t *testing.T) {
	d := New(nil, scenarioParams(), Options{InitialLevel: 600})
	assert.Equal(t, Above, d.Step(0, 700).State)

	d = New(nil, scenarioParams(), Options{InitialLevel: 600})
	assert.Equal(t, Below, d.Step(0, 599).State)
}

func TestDetector_ReferenceScenario(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)

	outs := feed(d, &now, 500, 500, 520, 521, 519)
	for i, out := range outs[:4] {
		assert.Equal(t, Below, out.State, "cycle %d", i)
		assert.False(t, out.Committed, "cycle %d", i)
	}
	assert.Equal(t, 2, outs[2].ConfirmRemaining)
	assert.Equal(t, 1, outs[3].ConfirmRemaining)

	// Third consecutive qualifying deviation commits
	commit := outs[4]
	assert.True(t, commit.Committed)
	assert.Equal(t, Above, commit.State)
	assert.Equal(t, DirUp, commit.Direction)
	assert.Equal(t, uint16(520), commit.Baseline) // median(520, 521, 519)
	assert.True(t, commit.Settling)

	// Spikes inside the settling window never commit
	settle := feed(d, &now, 520, 545, 545, 522, 521)
	for i, out := range settle[:4] {
		assert.True(t, out.Settling, "settle cycle %d", i)
		assert.False(t, out.Committed, "settle cycle %d", i)
		assert.Equal(t, Above, out.State)
		assert.Equal(t, uint16(520), out.Baseline)
	}
	// Deadline reached on the fifth reading: baseline is their median
	closed := settle[4]
	assert.False(t, closed.Settling)
	assert.Equal(t, uint16(522), closed.Baseline)

	// Resumes normal tracking; the first post-settle cycle is drift eligible
	out := d.Step(now, 530)
	assert.False(t, out.Settling)
	assert.Equal(t, uint16(523), out.Baseline)
	assert.Equal(t, Above, out.State)
}

func TestDetector_QuietSignalNeverCommits(t *testing.T) {
	p := scenarioParams()
	d := New(nil, p, Options{})
	rng := rand.New(rand.NewSource(1))

	d.Step(0, 500)
	sum := 0
	const n = 400
	for i := 1; i <= n; i++ {
		r := uint16(495 + rng.Intn(11)) // within +-5 of 500, threshold is 15
		sum += int(r)
		out := d.Step(uint32(i)*1000, r)
		require.Equal(t, Below, out.State)
		require.False(t, out.Committed)
	}
	mean := sum / n
	assert.InDelta(t, mean, int(d.Last().Baseline), float64(p.DriftStep)+5)
}

func TestDetector_BaselineConvergesToQuietLevel(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	d.Step(0, 500)
	for i := 1; i <= 20; i++ {
		d.Step(uint32(i)*1000, 510)
	}
	assert.Equal(t, uint16(510), d.Last().Baseline)
}

func TestDetector_SingleSpikeDoesNotCommit(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)
	outs := feed(d, &now, 500, 600, 500, 500, 600, 501)
	for _, out := range outs {
		assert.Equal(t, Below, out.State)
		assert.False(t, out.Committed)
	}
}

func TestDetector_QuietCycleCancelsRun(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)
	outs := feed(d, &now, 500, 560, 560, 505, 560, 560)
	for _, out := range outs {
		assert.False(t, out.Committed)
	}
	assert.Equal(t, 1, outs[5].ConfirmRemaining)

	out := d.Step(now, 560)
	assert.True(t, out.Committed)
}

func TestDetector_CommitTiming(t *testing.T) {
	for confirm := uint16(1); confirm <= 5; confirm++ {
		p := scenarioParams()
		p.ConfirmSamples = confirm
		d := New(nil, p, Options{})
		d.Step(0, 500)
		for i := uint16(1); i <= confirm; i++ {
			out := d.Step(uint32(i)*1000, 600)
			if i < confirm {
				assert.False(t, out.Committed, "confirm=%d cycle=%d", confirm, i)
				assert.Equal(t, Below, out.State)
				assert.Equal(t, int(confirm-i), out.ConfirmRemaining)
			} else {
				assert.True(t, out.Committed, "confirm=%d cycle=%d", confirm, i)
				assert.Equal(t, Above, out.State)
			}
		}
	}
}

func TestDetector_DirectionFlipRestartsRun(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)
	outs := feed(d, &now, 500, 560, 560, 440)
	assert.Equal(t, DirDown, outs[3].Direction)
	assert.Equal(t, 2, outs[3].ConfirmRemaining)

	// Flipping back up starts again from one, nothing carries over
	outs = feed(d, &now, 560, 560)
	assert.Equal(t, DirUp, outs[0].Direction)
	assert.Equal(t, 2, outs[0].ConfirmRemaining)
	assert.False(t, outs[1].Committed)
	assert.Equal(t, Below, outs[1].State)

	out := d.Step(now, 560)
	assert.True(t, out.Committed)
	assert.Equal(t, Above, out.State)
}

func TestDetector_SameDirectionCommitIsSuppressed(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)
	outs := feed(d, &now, 500, 440, 440, 440)
	last := outs[3]
	assert.False(t, last.Committed)
	assert.False(t, last.Settling)
	assert.Equal(t, Below, last.State)
	// Baseline only drifted, it was not re-anchored to 440
	assert.Equal(t, uint16(497), last.Baseline)
	assert.Equal(t, 3, last.ConfirmRemaining)
}

func TestDetector_FallingCommit(t *testing.T) {
	d := New(nil, scenarioParams(), Options{InitialLevel: 1})
	now := uint32(0)
	outs := feed(d, &now, 800, 700, 702, 698)
	assert.True(t, outs[3].Committed)
	assert.Equal(t, Below, outs[3].State)
	assert.Equal(t, DirDown, outs[3].Direction)
	assert.Equal(t, uint16(700), outs[3].Baseline)
}

func TestDetector_SettleClosesWhenBufferFull(t *testing.T) {
	p := scenarioParams()
	p.SettleMs = 1_000_000
	d := New(nil, p, Options{})
	now := uint32(0)
	outs := feed(d, &now, 500, 600, 600, 600)
	require.True(t, outs[3].Committed)

	for i := 0; i < SettleCapacity-1; i++ {
		out := d.Step(now, 610)
		now += 1000
		require.True(t, out.Settling, "cycle %d", i)
	}
	out := d.Step(now, 610)
	assert.False(t, out.Settling)
	assert.Equal(t, uint16(610), out.Baseline)
}

func TestDetector_ZeroSettleDurationClosesOnNextCycle(t *testing.T) {
	p := scenarioParams()
	p.SettleMs = 0
	d := New(nil, p, Options{})
	now := uint32(0)
	outs := feed(d, &now, 500, 600, 600, 600)
	require.True(t, outs[3].Committed)

	out := d.Step(now, 605)
	assert.False(t, out.Settling)
	assert.Equal(t, uint16(605), out.Baseline)
}

func TestDetector_ZeroConfirmTreatedAsOne(t *testing.T) {
	p := scenarioParams()
	p.ConfirmSamples = 0
	d := New(nil, p, Options{})
	d.Step(0, 500)
	out := d.Step(1000, 600)
	assert.True(t, out.Committed)
	assert.Equal(t, uint16(600), out.Baseline)
}

func TestDetector_LargeConfirmCountOnlyBuffersCapacity(t *testing.T) {
	p := scenarioParams()
	p.ConfirmSamples = 8
	d := New(nil, p, Options{})
	d.Step(0, 500)
	readings := []uint16{600, 601, 602, 603, 604, 700, 700, 700}
	var out Output
	for i, r := range readings {
		out = d.Step(uint32(i+1)*1000, r)
	}
	require.True(t, out.Committed)
	// Only the first ConfirmCapacity readings feed the median
	assert.Equal(t, uint16(602), out.Baseline)
}

func TestDetector_DriftDisabled(t *testing.T) {
	p := scenarioParams()
	p.DriftStep = 0
	d := New(nil, p, Options{})
	d.Step(0, 500)
	for i := 1; i < 50; i++ {
		d.Step(uint32(i)*1000, 510)
	}
	assert.Equal(t, uint16(500), d.Last().Baseline)
}

type liveParams struct{ p Params }

func (l *liveParams) Params() Params { return l.p }

func TestDetector_ParamsReadEveryCycle(t *testing.T) {
	live := &liveParams{p: Params(scenarioParams())}
	d := New(nil, live, Options{})
	now := uint32(0)
	feed(d, &now, 500, 560)

	// Lowering the requirement applies on the very next cycle
	live.p.ConfirmSamples = 2
	out := d.Step(now, 560)
	assert.True(t, out.Committed)
}

func TestDetector_BaselineStaysInRange(t *testing.T) {
	const maxRaw = 1023
	p := Params{ThresholdPct: 1, MinDeviation: 1, ConfirmSamples: 1, SettleMs: 0, DriftStep: 400}
	d := New(nil, StaticParams(p), Options{MaxRaw: maxRaw})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		r := uint16(rng.Intn(1 << 16))
		out := d.Step(uint32(i)*10, r)
		require.LessOrEqual(t, out.Baseline, uint16(maxRaw))
		require.LessOrEqual(t, out.Reading, uint16(maxRaw))
	}
}

func TestDetector_CycleUsesSampler(t *testing.T) {
	vals := []uint16{500, 900, 500, 500, 0}
	i := 0
	s := NewSampler(ReaderFunc(func() uint16 {
		v := vals[i%len(vals)]
		i++
		return v
	}), 0)
	s.Delay = nil

	d := New(s, scenarioParams(), Options{})
	out := d.Cycle(0)
	assert.Equal(t, uint16(500), out.Reading)
	assert.Equal(t, 5, i)
}

func TestDetector_Pending(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)

	feed(d, &now, 500)
	assert.Equal(t, 0, d.Pending(), "no run after the first reading")

	feed(d, &now, 600)
	assert.Equal(t, 2, d.Pending())
	feed(d, &now, 600)
	assert.Equal(t, 1, d.Pending())

	outs := feed(d, &now, 600)
	require.True(t, outs[0].Committed)
	assert.Equal(t, Above, d.State())
	assert.Equal(t, 0, d.Pending(), "commit ends the run")

	feed(d, &now, 700)
	assert.Equal(t, 0, d.Pending(), "settling cycles do not start a run")
}

func TestDetector_CandidateCyclesDrift(t *testing.T) {
	d := New(nil, scenarioParams(), Options{})
	now := uint32(0)

	outs := feed(d, &now, 500, 600, 600)
	assert.Equal(t, uint16(501), outs[1].Baseline)
	assert.Equal(t, uint16(502), outs[2].Baseline)
	assert.Equal(t, 1, outs[2].ConfirmRemaining, "run continues while the baseline drifts")
	assert.Equal(t, Below, outs[2].State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "above", Above.String())
	assert.Equal(t, "below", Below.String())
}
