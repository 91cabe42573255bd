// Package led renders the tank status as a blink pattern on a single LED.
//
//	empty            off
//	half             1 Hz blink
//	full             solid
//	error while full 5 Hz blink, or a breathing curve on PWM outputs
//	other error      slow blink, 3333 ms period
package led

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/itohio/gotank/pkg/level"
)

// MaxDuty is the duty of a fully lit LED.
const MaxDuty = 1023

const (
	halfPeriodMs   = 2000
	errorFullMs    = 200
	errorPeriodMs  = 3333
	breathPeriodMs = 200
)

// Duty returns the logical brightness for the given state at nowMs.
func Duty(lvl level.Level, isErr bool, nowMs uint32, pwm bool) uint16 {
	if !isErr {
		switch lvl {
		case level.Empty:
			return 0
		case level.Half:
			return blink(nowMs, halfPeriodMs)
		default:
			return MaxDuty
		}
	}

	if lvl == level.Full {
		if pwm {
			return breath(nowMs)
		}
		return blink(nowMs, errorFullMs)
	}
	return blink(nowMs, errorPeriodMs)
}

// blink is lit during the first half of each period.
func blink(nowMs, periodMs uint32) uint16 {
	if nowMs%periodMs < periodMs/2 {
		return MaxDuty
	}
	return 0
}

// breath follows a raised cosine over one period.
func breath(nowMs uint32) uint16 {
	t := float32(nowMs%breathPeriodMs) / breathPeriodMs
	y := 0.5 * (1 - math32.Cos(2*math32.Pi*t))
	return uint16(y * MaxDuty)
}

// Writer drives the physical LED.
type Writer interface {
	SetLED(duty uint16) error
}

// LED writes the status pattern, inverting it for active-low wiring.
type LED struct {
	Out       Writer
	ActiveLow bool
	PWM       bool

	last    uint16
	written bool
}

// Tick renders the pattern at nowMs. The output is only touched when the
// duty changes.
func (l *LED) Tick(lvl level.Level, isErr bool, nowMs uint32) error {
	duty := Duty(lvl, isErr, nowMs, l.PWM)
	if l.ActiveLow {
		duty = MaxDuty - duty
	}
	if l.written && duty == l.last {
		return nil
	}
	if err := l.Out.SetLED(duty); err != nil {
		return fmt.Errorf("failed to set led: %w", err)
	}
	l.last = duty
	l.written = true
	return nil
}

// Off switches the LED off.
func (l *LED) Off() error {
	duty := uint16(0)
	if l.ActiveLow {
		duty = MaxDuty
	}
	l.last = duty
	l.written = true
	return l.Out.SetLED(duty)
}
