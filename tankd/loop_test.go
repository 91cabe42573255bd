package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gotank/pkg/config"
	"github.com/itohio/gotank/pkg/detector"
	"github.com/itohio/gotank/pkg/level"
	"github.com/itohio/gotank/pkg/mqtt"
	"github.com/itohio/gotank/pkg/sample"
	"github.com/itohio/gotank/pkg/sensor"
)

type fakeDevice struct {
	mu    sync.Mutex
	pins  [sensor.DigitalInputs]bool
	relay bool
	led   uint16
}

type fakePin struct {
	d  *fakeDevice
	ch int
}

func (p fakePin) Get() bool {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.d.pins[p.ch]
}

func (d *fakeDevice) Connect() error { return nil }
func (d *fakeDevice) Close() error { return nil }
func (d *fakeDevice) Analog(int) detector.Reader { return nil }
func (d *fakeDevice) Digital(ch int) sensor.Pin { return fakePin{d: d, ch: ch} }
func (d *fakeDevice) IsConnected() bool { return true }
func (d *fakeDevice) SetRelay(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relay = on
	return nil
}

func (d *fakeDevice) SetLED(duty uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.led = duty
	return nil
}

func (d *fakeDevice) set(ch int, high bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pins[ch] = high
}

func (d *fakeDevice) pump() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relay
}

func newTestApp(t *testing.T, kind string) (*app, *fakeDevice, *fakeClock, chan sample.Sample) {
	t.Helper()
	cfg := config.Default()
	cfg.Sensors.Kind = kind
	store := config.NewStore(cfg, "")
	dev := &fakeDevice{}
	clock := &fakeClock{}

	a := newApp(store, dev, clock, zerolog.Nop())
	samples := make(chan sample.Sample, 100)
	a.samples = samples
	a.mqtt = mqtt.New(mqtt.Options{Device: mqtt.Device{Name: "tank"}}, a.snapshot, mqtt.Handlers{}, clock, zerolog.Nop())
	return a, dev, clock, samples
}

// run ticks the loop for d milliseconds in 5ms steps.
func (c *fakeClock) run(a *app, d uint32) {
	for end := c.ms + d; c.ms != end; c.ms += 5 {
		a.tick(c.ms)
	}
}

func TestAppFillsTank(t *testing.T) {
	a, dev, clock, samples := newTestApp(t, config.KindDigital)

	clock.run(a, 500)
	assert.Equal(t, level.Empty, a.state().level)
	assert.True(t, dev.pump(), "pump runs while the tank is not full")
	assert.NotEmpty(t, samples)

	dev.set(sensor.Input50, true)
	clock.run(a, 500)
	assert.Equal(t, level.Half, a.state().level)
	assert.True(t, dev.pump())

	dev.set(sensor.Input100, true)
	clock.run(a, 500)
	assert.Equal(t, level.Full, a.state().level)
	assert.False(t, dev.pump(), "pump stops when full")

	st := a.Status()
	assert.Equal(t, uint8(100), st.Level)
	assert.False(t, st.Error)
	assert.False(t, st.Relay)
	assert.Equal(t, config.ModeAuto, st.Mode)
	assert.False(t, st.MQTT)
	assert.Empty(t, st.Probes, "digital inputs carry no probe telemetry")
}

func TestAppSensorError(t *testing.T) {
	a, dev, clock, _ := newTestApp(t, config.KindDigital)

	dev.set(sensor.Input100, true)
	clock.run(a, 500)
	cur := a.state()
	assert.Equal(t, level.Full, cur.level)
	assert.True(t, cur.err)
	assert.True(t, cur.s100)
	assert.False(t, cur.s50)
}

func TestAppExternalMode(t *testing.T) {
	a, dev, clock, _ := newTestApp(t, config.KindDigital)
	require.NoError(t, a.store.SetMode(config.ModeExternal))

	clock.run(a, 500)
	assert.False(t, dev.pump(), "external mode leaves the pump alone")

	require.NoError(t, a.relay.Set(true))
	dev.set(sensor.Input50, true)
	dev.set(sensor.Input100, true)
	clock.run(a, 500)
	assert.True(t, dev.pump())
	assert.Equal(t, config.ModeExternal, a.snapshot().Mode)
}

func TestAppSnapshot(t *testing.T) {
	a, dev, clock, _ := newTestApp(t, config.KindDigital)
	dev.set(sensor.Input50, true)
	clock.run(a, 500)

	snap := a.snapshot()
	assert.Equal(t, uint8(50), snap.Level)
	assert.True(t, snap.S50)
	assert.False(t, snap.S100)
	assert.True(t, snap.Relay)
	assert.Equal(t, uint32(50), snap.SampleMs)
	assert.Equal(t, uint16(3), snap.ConfirmNeeded)
	assert.Zero(t, snap.Pending50)
	assert.Zero(t, snap.Pending100)

	// One cycle into a three-sample confirmation
	dev.set(sensor.Input100, true)
	clock.run(a, 5)
	snap = a.snapshot()
	assert.False(t, snap.S100)
	assert.Zero(t, snap.Pending50)
	assert.Equal(t, 2, snap.Pending100)
}

func TestAppRecordsHistory(t *testing.T) {
	a, _, clock, samples := newTestApp(t, config.KindDigital)
	clock.run(a, 100)

	require.NotEmpty(t, samples)
	s := <-samples
	assert.Equal(t, uint8(0), s.Level)
	assert.True(t, s.Pump)
	assert.False(t, s.Timestamp.IsZero())
}

func TestAppRecordDoesNotBlock(t *testing.T) {
	a, _, clock, _ := newTestApp(t, config.KindDigital)
	a.samples = make(chan sample.Sample)

	clock.run(a, 500)
	assert.Equal(t, level.Empty, a.state().level)
}

func TestAppLED(t *testing.T) {
	a, dev, clock, _ := newTestApp(t, config.KindDigital)
	dev.set(sensor.Input50, true)
	dev.set(sensor.Input100, true)
	clock.run(a, 500)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, uint16(0), dev.led, "full tank keeps the active-low LED lit")
}

func TestAppRestart(t *testing.T) {
	a, _, _, _ := newTestApp(t, config.KindDigital)
	a.Restart()
	a.Restart()
	assert.True(t, a.loop(context.Background()))
}

func TestAppLoopStopsOnCancel(t *testing.T) {
	a, _, _, _ := newTestApp(t, config.KindDigital)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, a.loop(ctx))
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, flags{port: "COM3", mock: true, logLevel: "debug", average: 0})
	assert.Equal(t, "COM3", cfg.Serial.Port)
	assert.Equal(t, config.KindMock, cfg.Sensors.Kind)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 0, cfg.History.AverageSamples)

	cfg = config.Default()
	applyFlags(cfg, flags{average: -1})
	assert.Equal(t, config.Default(), cfg)
}

func TestLogTransitions(t *testing.T) {
	var buf bytes.Buffer
	logFn := logTransitions(zerolog.New(&buf))
	now := time.Now()

	logFn(sample.Sample{Timestamp: now}, nil)
	logFn(sample.Sample{Timestamp: now}, []sample.Transition{{Timestamp: now.Add(-time.Second), To: 50}})
	assert.Empty(t, buf.String(), "only transitions of the newest record are logged")

	logFn(sample.Sample{Timestamp: now, Level: 100}, []sample.Transition{{Timestamp: now, From: 50, To: 100, Error: true}})
	out := buf.String()
	assert.Contains(t, out, `"message":"level transition"`)
	assert.Contains(t, out, `"from":50`)
	assert.Contains(t, out, `"to":100`)
	assert.Contains(t, out, `"error":true`)
}

func TestRunFailsWhenListenAddressBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := config.Default()
	cfg.Web.Listen = busy.Addr().String()
	cfg.Log.Level = "error"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	restart, err := run(ctx, flags{config: path, mock: true, average: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web server")
	assert.False(t, restart)
	assert.NoError(t, ctx.Err(), "run returned on the server error, not the timeout")
}
