//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	adcProbe50  machine.ADC
	adcProbe100 machine.ADC
	uart        = machine.UART0

	inputs  = [3]machine.Pin{PIN_INPUT50, PIN_INPUT100, PIN_FACTORY}
	pullups = [3]bool{true, true, true}

	relayOn    bool
	ledChannel uint8
	ledReady   bool

	// Timing
	lastFrame time.Time

	// Serial buffer for reading command lines
	serialBuffer [8]byte
	serialPos    int
)

func main() {
	PIN_RELAY.Configure(machine.PinConfig{Mode: machine.PinOutput})
	setRelay(false)

	configureInputs()

	PIN_PROBE50.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_PROBE100.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcProbe50 = machine.ADC{Pin: PIN_PROBE50}
	adcProbe100 = machine.ADC{Pin: PIN_PROBE100}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	adcProbe50.Configure(adcConfig)
	adcProbe100.Configure(adcConfig)

	configureLED()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastFrame = time.Now()

	for {
		now := time.Now()

		processSerial()

		if now.Sub(lastFrame) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			outputFrame(now)
			lastFrame = now
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func configureInputs() {
	for i, pin := range inputs {
		mode := machine.PinInput
		if pullups[i] {
			mode = machine.PinInputPullup
		}
		pin.Configure(machine.PinConfig{Mode: mode})
	}
}

func configureLED() {
	if err := ledPWM.Configure(machine.PWMConfig{Period: LED_PWM_PERIOD_NS}); err != nil {
		return
	}
	ch, err := ledPWM.Channel(PIN_LED)
	if err != nil {
		return
	}
	ledChannel = ch
	ledReady = true
	// LED is active-low: start dark
	setLED(LED_MAX_DUTY)
}

// readProbe returns the ADC value scaled to RAW_BITS.
func readProbe(adc machine.ADC) uint16 {
	return adc.Get() >> (16 - RAW_BITS)
}

// outputFrame writes one line: "micros,probe50,probe100,flags\n" where flags
// holds input50 input100 factory relay as digits.
// Example: "1234567890123,512,498,0101\n"
func outputFrame(now time.Time) {
	p50 := readProbe(adcProbe50)
	p100 := readProbe(adcProbe100)

	print(now.UnixNano() / 1000)
	print(",")
	print(p50)
	print(",")
	print(p100)
	print(",")
	for _, pin := range inputs {
		printBit(pin.Get())
	}
	printBit(relayOn)
	print("\n")
}

func printBit(on bool) {
	if on {
		print("1")
	} else {
		print("0")
	}
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				handleCommand(serialBuffer[:serialPos])
			}
			serialPos = 0
			continue
		}

		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Overlong line: drop it
			serialPos = 0
		}
	}
}

// handleCommand executes one command line:
//
//	R0 / R1   relay off / on
//	Pxyz      pull-ups for input50 input100 factory
//	Ldddd     LED duty 0..1023
func handleCommand(cmd []byte) {
	switch cmd[0] {
	case 'R':
		if len(cmd) == 2 && isBit(cmd[1]) {
			setRelay(cmd[1] == '1')
		}
	case 'P':
		if len(cmd) != 1+len(inputs) {
			return
		}
		for i := range inputs {
			if !isBit(cmd[1+i]) {
				return
			}
		}
		for i := range inputs {
			pullups[i] = cmd[1+i] == '1'
		}
		configureInputs()
	case 'L':
		if len(cmd) != 5 {
			return
		}
		var duty uint16
		for _, c := range cmd[1:] {
			if c < '0' || c > '9' {
				return
			}
			duty = duty*10 + uint16(c-'0')
		}
		if duty > LED_MAX_DUTY {
			duty = LED_MAX_DUTY
		}
		setLED(duty)
	}
}

func isBit(c byte) bool {
	return c == '0' || c == '1'
}

func setRelay(on bool) {
	relayOn = on
	if on {
		PIN_RELAY.High()
	} else {
		PIN_RELAY.Low()
	}
}

func setLED(duty uint16) {
	if !ledReady {
		return
	}
	ledPWM.Set(ledChannel, ledPWM.Top()*uint32(duty)/LED_MAX_DUTY)
}
