package detector

// drift moves baseline toward reading by at most step, keeping the result
// inside [0, maxRaw]. A step of zero leaves the baseline fixed.
func drift(baseline, reading, step, maxRaw uint16) uint16 {
	if step == 0 {
		return baseline
	}
	diff := int32(reading) - int32(baseline)
	if diff > int32(step) {
		diff = int32(step)
	} else if diff < -int32(step) {
		diff = -int32(step)
	}
	return clampRaw(int32(baseline)+diff, maxRaw)
}

func clampRaw(v int32, maxRaw uint16) uint16 {
	if v < 0 {
		return 0
	}
	if v > int32(maxRaw) {
		return maxRaw
	}
	return uint16(v)
}
