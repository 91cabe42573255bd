package sensor

// Logic is a digital input with its active polarity applied.
type Logic struct {
	Pin      Pin
	TrueHigh bool
}

// Active reports the logical value of the input.
func (l Logic) Active() bool {
	high := l.Pin.Get()
	if l.TrueHigh {
		return high
	}
	return !high
}

// Debouncer confirms a digital input change only after it has been seen
// on a number of consecutive samples.
type Debouncer struct {
	state     bool
	candidate bool
	count     int
	started   bool
}

// Update feeds one sample and returns the debounced state. The first
// sample is taken as is. confirm values below one are treated as one.
func (d *Debouncer) Update(raw bool, confirm int) bool {
	if confirm < 1 {
		confirm = 1
	}
	if !d.started {
		d.started = true
		d.state = raw
		d.candidate = raw
		d.count = 0
		return d.state
	}

	if raw == d.state {
		d.count = 0
		return d.state
	}

	if d.count == 0 || raw != d.candidate {
		d.candidate = raw
		d.count = 0
	}
	d.count++
	if d.count >= confirm {
		d.state = raw
		d.count = 0
	}
	return d.state
}

// State returns the debounced state.
func (d *Debouncer) State() bool { return d.state }

// Pending returns how many further samples a pending change needs.
func (d *Debouncer) Pending(confirm int) int {
	if d.count == 0 {
		return 0
	}
	if confirm < 1 {
		confirm = 1
	}
	return confirm - d.count
}
