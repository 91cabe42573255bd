package detector

import "time"

const (
	// BurstSize is the number of raw reads reduced into one cycle reading.
	BurstSize = 5
	// BurstSpacing is the delay between consecutive reads of a burst.
	BurstSpacing = 100 * time.Microsecond
)

// Reader returns one raw sample per call.
type Reader interface {
	ReadRaw() uint16
}

// ReaderFunc adapts a plain function to Reader.
type ReaderFunc func() uint16

// ReadRaw implements Reader.
func (f ReaderFunc) ReadRaw() uint16 { return f() }

// Sampler takes a short burst of raw reads and reduces it to its median.
// A 5-sample median rejects single-sample spikes without smoothing away a
// real step change.
type Sampler struct {
	src    Reader
	maxRaw uint16

	// Delay waits between burst reads. nil skips the wait.
	Delay func(time.Duration)
}

// NewSampler creates a sampler over src whose output is clamped to [0, maxRaw].
func NewSampler(src Reader, maxRaw uint16) *Sampler {
	if maxRaw == 0 {
		maxRaw = DefaultMaxRaw
	}
	return &Sampler{
		src:    src,
		maxRaw: maxRaw,
		Delay:  time.Sleep,
	}
}

// Sample performs one burst and returns the median reading.
func (s *Sampler) Sample() uint16 {
	var burst [BurstSize]uint16
	for i := range burst {
		if i > 0 && s.Delay != nil {
			s.Delay(BurstSpacing)
		}
		v := s.src.ReadRaw()
		if v > s.maxRaw {
			v = s.maxRaw
		}
		burst[i] = v
	}
	return median(burst[:])
}
