package detector

// Direction of a deviation from the baseline.
type Direction int8

const (
	DirNone Direction = 0
	DirUp   Direction = 1
	DirDown Direction = -1
)

// candidate is a run of consecutive cycles deviating in the same direction.
type candidate struct {
	dir   Direction
	count int
	buf   window
}

func (c *candidate) reset() {
	c.dir = DirNone
	c.count = 0
	c.buf.reset()
}

// observe feeds one cycle into the run. It returns true when the run reached
// required confirmations; the caller commits and resets.
func (c *candidate) observe(reading uint16, signed int32, deviation, threshold uint16, required int) bool {
	if deviation < threshold {
		// A quiet cycle cancels the run, no partial credit
		c.reset()
		return false
	}

	dir := DirDown
	if signed > 0 {
		dir = DirUp
	}

	if c.dir != dir {
		c.reset()
		c.dir = dir
	}
	c.count++
	c.buf.push(reading)

	return c.count >= required
}

// remaining returns how many more confirming cycles a commit needs.
func (c *candidate) remaining(required int) int {
	if c.count >= required {
		return 0
	}
	return required - c.count
}
