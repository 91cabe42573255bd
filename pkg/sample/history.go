package sample

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is the telemetry retention used when none is given.
const DefaultWindow = 10 * time.Minute

// Transition records a change of the combined level or error flag.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	From      uint8     `json:"from"`
	To        uint8     `json:"to"`
	Error     bool      `json:"error"`
}

// History keeps samples within a time window, oldest first. Removal is
// based on timestamp, not number of samples.
type History struct {
	window time.Duration

	mu          sync.RWMutex
	samples     []Sample
	transitions []Transition

	callbacks []func(latest Sample, transitions []Transition)
	cbMu      sync.RWMutex
}

// NewHistory creates a history retaining the given window.
func NewHistory(window time.Duration) *History {
	if window <= 0 {
		window = DefaultWindow
	}
	return &History{
		window:      window,
		samples:     make([]Sample, 0),
		transitions: make([]Transition, 0),
	}
}

// Process adds samples from the input channel until it closes.
func (h *History) Process(input <-chan Sample) {
	for s := range input {
		h.Add(s)
	}
}

// Add appends one sample, trims the window and records transitions.
func (h *History) Add(s Sample) {
	h.mu.Lock()

	if n := len(h.samples); n > 0 {
		prev := h.samples[n-1]
		if prev.Level != s.Level || prev.Error != s.Error {
			h.transitions = append(h.transitions, Transition{
				Timestamp: s.Timestamp,
				From:      prev.Level,
				To:        s.Level,
				Error:     s.Error,
			})
		}
	}
	h.samples = append(h.samples, s)

	cutoff := s.Timestamp.Add(-h.window)
	h.samples = h.samples[firstAfter(len(h.samples), func(i int) time.Time { return h.samples[i].Timestamp }, cutoff):]
	h.transitions = h.transitions[firstAfter(len(h.transitions), func(i int) time.Time { return h.transitions[i].Timestamp }, cutoff):]

	transitions := make([]Transition, len(h.transitions))
	copy(transitions, h.transitions)
	h.mu.Unlock()

	h.notifyCallbacks(s, transitions)
}

// firstAfter returns the index of the first entry newer than cutoff.
// Entries are ordered by timestamp.
func firstAfter(n int, at func(int) time.Time, cutoff time.Time) int {
	return sort.Search(n, func(i int) bool { return at(i).After(cutoff) })
}

// Samples returns a copy of the current samples buffer.
func (h *History) Samples() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Sample, len(h.samples))
	copy(result, h.samples)
	return result
}

// Since returns a copy of the samples newer than t.
func (h *History) Since(t time.Time) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i := firstAfter(len(h.samples), func(i int) time.Time { return h.samples[i].Timestamp }, t)
	result := make([]Sample, len(h.samples)-i)
	copy(result, h.samples[i:])
	return result
}

// Latest returns the newest sample, if any.
func (h *History) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Transitions returns a copy of the level transitions within the window.
func (h *History) Transitions() []Transition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Transition, len(h.transitions))
	copy(result, h.transitions)
	return result
}

// OnUpdate registers a callback invoked after each added sample.
// The callback should return quickly.
func (h *History) OnUpdate(callback func(latest Sample, transitions []Transition)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, callback)
}

func (h *History) notifyCallbacks(latest Sample, transitions []Transition) {
	h.cbMu.RLock()
	callbacks := make([]func(Sample, []Transition), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(latest, transitions)
		}
	}
}
