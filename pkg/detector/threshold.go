package detector

import (
	"math"

	"github.com/chewxy/math32"
)

// minDenominator keeps the percentage rule meaningful near a zero baseline.
const minDenominator = 1

// Threshold returns the minimum deviation from baseline that counts as
// exceeded: pct percent of the baseline, rounded, but never below floor and
// never below 1.
func Threshold(baseline uint16, pct float32, floor uint16) uint16 {
	denom := baseline
	if denom < minDenominator {
		denom = minDenominator
	}

	// NaN and negative percentages contribute nothing
	if !(pct > 0) {
		pct = 0
	}
	t := math32.Floor(pct/100*float32(denom) + 0.5)
	if t > math.MaxUint16 {
		t = math.MaxUint16
	}

	threshold := uint16(t)
	if threshold < floor {
		threshold = floor
	}
	if threshold == 0 {
		threshold = 1
	}
	return threshold
}

// Deviation returns reading - baseline and its absolute value.
func Deviation(reading, baseline uint16) (signed int32, abs uint16) {
	signed = int32(reading) - int32(baseline)
	if signed < 0 {
		return signed, uint16(-signed)
	}
	return signed, uint16(signed)
}
