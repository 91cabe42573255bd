package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/gotank/pkg/detector"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the UART rate of the firmware bridge.
	DefaultBaudRate = 115200
	// MaxRaw is the largest value a 12-bit bridge ADC can report.
	MaxRaw = 4095
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the MCU ADC bridge.
type Serial struct {
	store

	port     string
	baudRate int
	pullups  [DigitalInputs]bool
	log      zerolog.Logger

	conn      io.ReadWriteCloser
	mu        sync.RWMutex
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// NewSerial creates a bridge device on the given port.
func NewSerial(port string, baudRate int, log zerolog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		log:      log.With().Str("component", "serial").Str("port", port).Logger(),
	}
}

// SetPullups selects which digital inputs the bridge configures with a
// pull-up. It takes effect on the next Connect.
func (d *Serial) SetPullups(in50, in100, factory bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pullups = [DigitalInputs]bool{in50, in100, factory}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading frames.
func (d *Serial) Connect() error {
	port, err := serial.Open(d.port, &serial.Mode{
		BaudRate: d.baudRate,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	return d.attach(port)
}

// attach starts the device on an already open connection.
func (d *Serial) attach(conn io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.conn = conn
	d.connected = true
	d.done = make(chan struct{})

	if _, err := conn.Write([]byte(pullupCommand(d.pullups))); err != nil {
		d.log.Warn().Err(err).Msg("failed to configure pull-ups")
	}

	go d.readFrames(ctx, conn, d.done)

	return nil
}

// Close closes the connection and stops reading frames.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()
	var err error
	if d.conn != nil {
		if err = d.conn.Close(); err != nil {
			err = fmt.Errorf("failed to close serial port: %w", err)
		}
		d.conn = nil
	}
	d.connected = false
	done := d.done
	d.mu.Unlock()

	<-done
	return err
}

// Analog returns a raw sample reader for an analog channel.
func (d *Serial) Analog(ch int) detector.Reader { return d.analogReader(ch) }

// Digital returns the electrical level of a digital input.
func (d *Serial) Digital(ch int) Pin { return d.digitalPin(ch) }

// SetRelay drives the pump relay output on the bridge.
func (d *Serial) SetRelay(on bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := d.conn.Write([]byte(relayCommand(on))); err != nil {
		return fmt.Errorf("failed to send relay command: %w", err)
	}

	return nil
}

// SetLED sets the status LED duty (0..1023) on the bridge.
func (d *Serial) SetLED(duty uint16) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := d.conn.Write([]byte(ledCommand(duty))); err != nil {
		return fmt.Errorf("failed to send led command: %w", err)
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readFrames reads lines from the bridge and stores the parsed frames.
func (d *Serial) readFrames(ctx context.Context, r io.Reader, done chan struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Interface("panic", rec).Msg("frame reader crashed")
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		frame, err := parseLine(line)
		if err != nil {
			d.log.Debug().Err(err).Str("line", line).Msg("failed to parse line")
			continue
		}
		d.put(frame)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		d.log.Error().Err(err).Msg("error reading from serial port")
	}
}

func relayCommand(on bool) string {
	if on {
		return "R1\n"
	}
	return "R0\n"
}

func ledCommand(duty uint16) string {
	if duty > 1023 {
		duty = 1023
	}
	return fmt.Sprintf("L%04d\n", duty)
}

func pullupCommand(p [DigitalInputs]bool) string {
	var cmd strings.Builder
	cmd.WriteByte('P')
	for _, on := range p {
		cmd.WriteByte(bit(on))
	}
	cmd.WriteByte('\n')
	return cmd.String()
}

func bit(on bool) byte {
	if on {
		return '1'
	}
	return '0'
}

// parseLine parses a line from the bridge into a Frame.
// Format: unix_micros,probe50,probe100,flags
// where flags holds four digits: input50 input100 factory relay.
// Example: 1234567890123,512,498,0101
func parseLine(line string) (Frame, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return Frame{}, fmt.Errorf("invalid line format: expected 4 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	var f Frame
	f.Timestamp = time.UnixMicro(timestampMicros)

	for i := 0; i < AnalogChannels; i++ {
		v, err := strconv.ParseUint(parts[1+i], 10, 16)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid probe %d reading: %w", i, err)
		}
		if v > MaxRaw {
			return Frame{}, fmt.Errorf("probe %d reading %d: %w", i, v, ErrOutOfRange)
		}
		f.Analog[i] = uint16(v)
	}

	flags := parts[3]
	if len(flags) != DigitalInputs+1 {
		return Frame{}, fmt.Errorf("invalid flags: expected %d digits, got %d", DigitalInputs+1, len(flags))
	}
	for i := 0; i < DigitalInputs; i++ {
		f.Digital[i] = flags[i] == '1'
	}
	f.Relay = flags[DigitalInputs] == '1'

	return f, nil
}
