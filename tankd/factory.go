package main

import (
	"time"

	"github.com/itohio/gotank/pkg/cadence"
	"github.com/itohio/gotank/pkg/led"
)

const (
	factoryHoldMs  = 5000
	factoryBlinkMs = 200
	factoryPoll    = 10 * time.Millisecond
)

// factoryCheck watches the factory input during start-up.
type factoryCheck struct {
	Active func() bool
	LED    led.Writer
	Clock  cadence.Clock
	Sleep  func(time.Duration)
}

// held reports whether the input stayed active for the whole hold window.
// The LED blinks while the input is held and is switched off afterwards.
// The LED is wired active-low.
func (f factoryCheck) held() bool {
	if !f.Active() {
		return false
	}
	start := f.Clock.Millis()
	defer f.LED.SetLED(led.MaxDuty)
	for {
		now := f.Clock.Millis()
		if now-start >= factoryHoldMs {
			return true
		}
		if !f.Active() {
			return false
		}
		if (now/factoryBlinkMs)%2 == 1 {
			f.LED.SetLED(0)
		} else {
			f.LED.SetLED(led.MaxDuty)
		}
		f.Sleep(factoryPoll)
	}
}
