//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 10 // One frame per interval, both probes read back to back
	RAW_BITS           = 10 // Reported probe resolution (0-1023)

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // Hardware resolution, reduced to RAW_BITS on output

	// Probe pins
	PIN_PROBE50  = machine.A0
	PIN_PROBE100 = machine.A1

	// Digital inputs, same order as the flags field
	PIN_INPUT50  = machine.D2
	PIN_INPUT100 = machine.D3
	PIN_FACTORY  = machine.D4

	// Outputs
	PIN_RELAY = machine.D7
	PIN_LED   = machine.D8 // PA07, TCC1 channel 1

	LED_PWM_PERIOD_NS = 1e9 / 1000 // 1 kHz
	LED_MAX_DUTY      = 1023

	// Serial configuration
	// Format "micros,probe50,probe100,flags\n"
	// Example: "1234567890123,1023,1023,1101\n" = ~30 bytes max per line
	// 100 frames/sec * 30 bytes/line = 3,000 bytes/sec
	// UART 8N1: 10 bits/byte = 30,000 baud minimum.
	// 115200 provides ~3.8x headroom
	UART_BAUD_RATE = 115200
)

var ledPWM = machine.TCC1
