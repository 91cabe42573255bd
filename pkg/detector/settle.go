package detector

// settling collects readings after a committed transition until its deadline
// passes or its buffer fills, then yields one new baseline.
type settling struct {
	active   bool
	deadline uint32
	buf      window
}

func (s *settling) open(now, durationMs uint32) {
	s.active = true
	s.deadline = now + durationMs
	s.buf.reset()
}

// step buffers reading and reports whether the window closed this cycle,
// returning the new baseline when it did.
func (s *settling) step(now uint32, reading uint16) (uint16, bool) {
	if !s.active {
		return 0, false
	}
	s.buf.push(reading)
	if !s.buf.full() && !reached(now, s.deadline) {
		return 0, false
	}
	baseline := s.buf.median()
	s.active = false
	s.buf.reset()
	return baseline, true
}

// reached reports whether now is at or past deadline on a wrapping
// millisecond clock.
func reached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}
