// Package cadence schedules fixed-period work against a wrapping
// millisecond clock without accumulating drift or double-firing.
package cadence

import (
	"math"
	"time"
)

// Clock is a monotonic millisecond clock. It may wrap around.
type Clock interface {
	Millis() uint32
}

// System is a Clock backed by the Go monotonic clock.
type System struct {
	start time.Time
}

// NewSystem returns a clock that starts counting now.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Millis implements Clock.
func (s *System) Millis() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// Ticker decides when the next cycle is due.
type Ticker struct {
	next    uint32
	started bool
}

// Due reports whether a cycle should run at now for the given period.
// The first call is always due. A period of zero, or one too large to
// compare on a wrapping clock, never fires.
func (t *Ticker) Due(now, periodMs uint32) bool {
	if periodMs == 0 || periodMs > math.MaxInt32 {
		return false
	}
	if !t.started {
		t.started = true
		t.next = now + periodMs
		return true
	}
	if int32(now-t.next) < 0 {
		return false
	}
	t.next += periodMs
	if int32(now-t.next) >= 0 {
		// Missed one or more deadlines: run once and realign
		t.next = now + periodMs
	}
	return true
}

// Reset makes the next Due call fire immediately.
func (t *Ticker) Reset() {
	t.started = false
}

// Every reports whether at least intervalMs passed since *last, updating
// *last when it did. It is used for coarse periodic duties.
func Every(now uint32, last *uint32, intervalMs uint32) bool {
	if now-*last < intervalMs {
		return false
	}
	*last = now
	return true
}
