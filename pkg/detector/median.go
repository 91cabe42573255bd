package detector

const (
	// ConfirmCapacity is the number of readings a confirmation run buffers.
	ConfirmCapacity = 5
	// SettleCapacity is the number of readings a settling window can hold.
	SettleCapacity = 16
)

// window is a fixed-capacity reading buffer. Appends past capacity are dropped.
type window struct {
	vals  [SettleCapacity]uint16
	n     int
	limit int
}

func newWindow(limit int) window {
	if limit <= 0 || limit > SettleCapacity {
		limit = SettleCapacity
	}
	return window{limit: limit}
}

// push appends v if there is room and reports whether it was stored.
func (w *window) push(v uint16) bool {
	if w.n >= w.capacity() {
		return false
	}
	w.vals[w.n] = v
	w.n++
	return true
}

func (w *window) full() bool { return w.n >= w.capacity() }

func (w *window) capacity() int {
	if w.limit == 0 {
		return SettleCapacity
	}
	return w.limit
}

func (w *window) len() int { return w.n }

func (w *window) reset() { w.n = 0 }

// median returns the median of the buffered readings, or 0 when empty.
func (w *window) median() uint16 {
	return median(w.vals[:w.n])
}

// median returns the median of vals without modifying it. For an even count
// the two middle values are averaged (rounding down). vals must not be longer
// than SettleCapacity.
func median(vals []uint16) uint16 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	var sorted [SettleCapacity]uint16
	copy(sorted[:], vals)
	s := sorted[:n]

	// Insertion sort: n is tiny and this keeps the cycle allocation free
	for i := 1; i < n; i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}

	if n%2 == 1 {
		return s[n/2]
	}
	lo, hi := uint32(s[n/2-1]), uint32(s[n/2])
	return uint16((lo + hi) / 2)
}
