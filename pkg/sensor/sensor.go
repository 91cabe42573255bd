// Package sensor provides the raw inputs of the tank controller: analog
// probe channels and digital pins, either streamed from the MCU bridge over
// a serial port or produced by a simulated tank.
package sensor

import (
	"errors"
	"sync"
	"time"

	"github.com/itohio/gotank/pkg/detector"
)

// Analog channels.
const (
	Probe50 = iota
	Probe100
	AnalogChannels
)

// Digital inputs.
const (
	Input50 = iota
	Input100
	InputFactory
	DigitalInputs
)

// ringSize is the number of unread raw samples kept per analog channel.
const ringSize = 8

var (
	// ErrNotConnected is returned by commands issued before Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrOutOfRange is returned when a frame carries an impossible value.
	ErrOutOfRange = errors.New("value out of range")
)

// Device defines the interface for sensor front ends (real or simulated).
type Device interface {
	Connect() error
	Close() error
	Analog(ch int) detector.Reader
	Digital(ch int) Pin
	SetRelay(on bool) error
	SetLED(duty uint16) error
	IsConnected() bool
}

// Pin reads the electrical level of a digital input.
type Pin interface {
	Get() bool
}

// Frame is one line of the bridge protocol.
type Frame struct {
	Timestamp time.Time
	Analog    [AnalogChannels]uint16
	Digital   [DigitalInputs]bool
	Relay     bool
}

// ring holds the most recent analog samples of one channel.
type ring struct {
	vals   [ringSize]uint16
	head   int // next write
	unread int
	last   uint16
}

func (r *ring) put(v uint16) {
	r.vals[r.head] = v
	r.head = (r.head + 1) % ringSize
	if r.unread < ringSize {
		r.unread++
	}
	r.last = v
}

// take returns the oldest unread sample, or the latest one when everything
// has been consumed already.
func (r *ring) take() uint16 {
	if r.unread == 0 {
		return r.last
	}
	idx := (r.head - r.unread + ringSize) % ringSize
	r.unread--
	return r.vals[idx]
}

// store is the shared latest-state buffer behind a Device.
type store struct {
	mu      sync.Mutex
	analog  [AnalogChannels]ring
	digital [DigitalInputs]bool
	relay   bool
	last    time.Time
	frames  uint64
}

func (s *store) put(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range f.Analog {
		s.analog[i].put(v)
	}
	s.digital = f.Digital
	s.relay = f.Relay
	s.last = f.Timestamp
	s.frames++
}

func (s *store) read(ch int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analog[ch].take()
}

func (s *store) pin(ch int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digital[ch]
}

// Stats reports how many frames were received and when the last one arrived.
func (s *store) Stats() (frames uint64, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.last
}

// analogChannel adapts a store channel to detector.Reader.
type analogChannel struct {
	s  *store
	ch int
}

func (a analogChannel) ReadRaw() uint16 { return a.s.read(a.ch) }

// digitalPin adapts a store input to Pin.
type digitalPin struct {
	s  *store
	ch int
}

func (p digitalPin) Get() bool { return p.s.pin(p.ch) }

func (s *store) analogReader(ch int) detector.Reader {
	if ch < 0 || ch >= AnalogChannels {
		ch = Probe50
	}
	return analogChannel{s: s, ch: ch}
}

func (s *store) digitalPin(ch int) Pin {
	if ch < 0 || ch >= DigitalInputs {
		ch = Input50
	}
	return digitalPin{s: s, ch: ch}
}
