package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/gotank/pkg/cadence"
	"github.com/itohio/gotank/pkg/config"
	"github.com/itohio/gotank/pkg/detector"
	"github.com/itohio/gotank/pkg/led"
	"github.com/itohio/gotank/pkg/level"
	"github.com/itohio/gotank/pkg/logger"
	"github.com/itohio/gotank/pkg/mqtt"
	"github.com/itohio/gotank/pkg/relay"
	"github.com/itohio/gotank/pkg/sample"
	"github.com/itohio/gotank/pkg/sensor"
	"github.com/itohio/gotank/pkg/web"
)

const (
	loopInterval    = 5 * time.Millisecond
	publishMs       = 1000
	shutdownTimeout = 5 * time.Second
	frameTimeout    = 2 * time.Second
)

// state is the part of the controller visible outside the control loop.
type state struct {
	level      level.Level
	err        bool
	s50        bool
	s100       bool
	pending50  int // samples a pending change still needs
	pending100 int
	probes     []detector.Output
}

// app wires the control loop to its outer surfaces.
type app struct {
	store   *config.Store
	device  sensor.Device
	monitor *level.Monitor
	relay   *relay.Relay
	control *relay.Controller
	led     *led.LED
	mqtt    *mqtt.Client
	clock   cadence.Clock
	log     zerolog.Logger
	started time.Time

	samples chan<- sample.Sample

	mu      sync.RWMutex
	current state

	restart chan struct{}
}

var _ web.Controller = (*app)(nil)

// run starts the controller and blocks until ctx is done or a restart is
// requested. It reports whether the caller should start again.
func run(ctx context.Context, f flags) (bool, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return false, err
	}
	log := newLogger(cfg)

	dev := openDevice(cfg, log)
	if err := dev.Connect(); err != nil {
		return false, fmt.Errorf("failed to connect sensors: %w", err)
	}
	defer dev.Close()

	ready := awaitFrames(ctx, dev, frameTimeout)
	if !ready {
		log.Warn().Dur("timeout", frameTimeout).Msg("no frames from sensors yet")
	}

	clock := cadence.NewSystem()
	check := factoryCheck{
		Active: sensor.Logic{Pin: dev.Digital(sensor.InputFactory), TrueHigh: cfg.Sensors.Factory.TrueHigh}.Active,
		LED:    dev,
		Clock:  clock,
		Sleep:  time.Sleep,
	}
	// Without frames the factory input reads idle-low and cannot be trusted
	if ready && check.held() {
		log.Warn().Str("path", f.config).Msg("factory reset")
		if cfg, err = resetConfig(f.config); err != nil {
			return false, err
		}
		applyFlags(cfg, f)
	}

	store := config.NewStore(cfg, f.config)
	store.OnChange(func(c *config.Config) {
		log.Info().Str("mode", c.Mode).Msg("configuration updated")
	})
	history := sample.NewHistory(cfg.History.Window)
	history.OnUpdate(logTransitions(log))
	samples := make(chan sample.Sample, 100)
	go history.Process(sample.NewAveraging(cfg.History.AverageSamples, 0)(samples))
	defer close(samples)

	a := newApp(store, dev, clock, log)
	a.samples = samples
	a.mqtt = mqtt.New(mqtt.OptionsFromConfig(cfg), a.snapshot, mqtt.Handlers{
		SetRelay: a.relay.Set,
		SetMode:  store.SetMode,
	}, clock, log)

	srv := web.NewServer(cfg.Web.Listen, store, a, history, logger.Named(log, "web"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.mqtt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("mqtt stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(); err != nil {
			srvErr <- fmt.Errorf("web server: %w", err)
			cancel()
		}
	}()

	log.Info().
		Str("sensors", cfg.Sensors.Kind).
		Str("mode", store.Mode()).
		Str("listen", cfg.Web.Listen).
		Msg("tank controller started")

	restart := a.loop(ctx)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("web shutdown")
	}
	wg.Wait()

	if err := a.relay.Set(false); err != nil {
		log.Warn().Err(err).Msg("failed to switch pump off")
	}
	a.led.Off()

	select {
	case err := <-srvErr:
		return false, err
	default:
	}
	if restart {
		log.Info().Msg("restarting")
	}
	return restart, nil
}

// logTransitions logs level and error changes as they enter the history.
func logTransitions(log zerolog.Logger) func(sample.Sample, []sample.Transition) {
	return func(latest sample.Sample, transitions []sample.Transition) {
		n := len(transitions)
		if n == 0 || !transitions[n-1].Timestamp.Equal(latest.Timestamp) {
			return
		}
		t := transitions[n-1]
		log.Info().
			Uint8("from", t.From).
			Uint8("to", t.To).
			Bool("error", t.Error).
			Msg("level transition")
	}
}

func newApp(store *config.Store, dev sensor.Device, clock cadence.Clock, log zerolog.Logger) *app {
	cfg := store.Get()
	pump := relay.New(dev, logger.Named(log, "relay"))
	a := &app{
		store:   store,
		device:  dev,
		relay:   pump,
		control: &relay.Controller{Relay: pump, Modes: store},
		led:     &led.LED{Out: dev, ActiveLow: true, PWM: true},
		clock:   clock,
		log:     log,
		started: time.Now(),
		restart: make(chan struct{}, 1),
	}
	a.monitor = &level.Monitor{
		S50:    a.input(&cfg, sensor.Probe50, sensor.Input50, cfg.Sensors.Sensor50),
		S100:   a.input(&cfg, sensor.Probe100, sensor.Input100, cfg.Sensors.Sensor100),
		Period: func() uint32 { return store.Params().SamplePeriodMs },
	}
	return a
}

// input builds one level sensor. Analog and simulated tanks go through the
// adaptive detector; digital float switches are debounced.
func (a *app) input(cfg *config.Config, analogCh, digitalCh int, in config.InputConfig) level.Input {
	if cfg.Sensors.Kind == config.KindDigital {
		return &level.Digital{
			Logic:   sensor.Logic{Pin: a.device.Digital(digitalCh), TrueHigh: in.TrueHigh},
			Confirm: func() int { return int(a.store.Params().ConfirmSamples) },
		}
	}
	sampler := detector.NewSampler(a.device.Analog(analogCh), cfg.Detector.MaxRaw)
	return &level.Analog{
		Detector: detector.New(sampler, a.store, detector.Options{
			MaxRaw:       cfg.Detector.MaxRaw,
			InitialLevel: cfg.Detector.InitialLevel,
		}),
		TrueHigh: in.TrueHigh,
	}
}

// loop runs cycles until ctx is done. It reports whether a restart was
// requested.
func (a *app) loop(ctx context.Context) bool {
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	var lastPublish uint32
	for {
		select {
		case <-ctx.Done():
			return false
		case <-a.restart:
			return true
		case <-ticker.C:
		}

		now := a.clock.Millis()
		a.tick(now)
		if cadence.Every(now, &lastPublish, publishMs) {
			a.publish(ctx)
		}
	}
}

// tick runs one control cycle.
func (a *app) tick(now uint32) {
	if a.monitor.Tick(now) {
		a.cycle()
	}
	cur := a.state()
	if err := a.led.Tick(cur.level, cur.err, now); err != nil {
		a.log.Trace().Err(err).Msg("led")
	}
}

// cycle records the sensor state after a sample and drives the pump.
func (a *app) cycle() {
	probes := a.monitor.Probes()
	next := state{
		level:  a.monitor.Level(),
		err:    a.monitor.Error(),
		s50:    a.monitor.S50.Active(),
		s100:   a.monitor.S100.Active(),
		probes: probes,
	}
	next.pending50, next.pending100 = a.monitor.Pending()

	a.mu.Lock()
	a.current = next
	a.mu.Unlock()

	for i, p := range probes {
		if p.Committed {
			a.log.Info().
				Int("probe", i).
				Stringer("state", p.State).
				Uint16("baseline", p.Baseline).
				Uint16("reading", p.Reading).
				Uint16("threshold", p.Threshold).
				Msg("probe committed")
		}
	}

	if switched, err := a.control.Apply(next.s100); err != nil {
		a.log.Error().Err(err).Msg("failed to drive pump")
	} else if switched {
		a.log.Info().Bool("pump", a.relay.On()).Msg("pump switched")
	}

	a.record(next)
}

// record hands the cycle to the history pipeline without blocking the loop.
func (a *app) record(s state) {
	smp := sample.Sample{
		Timestamp: time.Now(),
		Level:     uint8(s.level),
		Error:     s.err,
		Pump:      a.relay.On(),
	}
	for _, p := range s.probes {
		smp.Probes = append(smp.Probes, sample.NewProbe(p))
	}
	select {
	case a.samples <- smp:
	default:
		a.log.Debug().Msg("history backlog, sample dropped")
	}
}

func (a *app) publish(ctx context.Context) {
	cur := a.state()
	a.log.Debug().
		Uint8("tank_level", uint8(cur.level)).
		Bool("error", cur.err).
		Bool("pump", a.relay.On()).
		Str("mode", a.store.Mode()).
		Bool("mqtt", a.mqtt.Online()).
		Msg("status")
	if !a.mqtt.Online() {
		return
	}
	if err := a.mqtt.PublishDiff(ctx); err != nil && !errors.Is(err, mqtt.ErrOffline) {
		a.log.Warn().Err(err).Msg("publish failed")
	}
}

func (a *app) state() state {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// snapshot is the MQTT state source. It is called from the client
// goroutines.
func (a *app) snapshot() mqtt.Snapshot {
	cur := a.state()
	params := a.store.Params()
	snap := mqtt.Snapshot{
		Level:         uint8(cur.level),
		Error:         cur.err,
		Relay:         a.relay.On(),
		Mode:          a.store.Mode(),
		S50:           cur.s50,
		S100:          cur.s100,
		Pending50:     cur.pending50,
		Pending100:    cur.pending100,
		SampleMs:      params.SamplePeriodMs,
		ConfirmNeeded: params.ConfirmSamples,
	}
	for _, p := range cur.probes {
		snap.Probes = append(snap.Probes, mqtt.ProbeAttributes{
			Reading:          p.Reading,
			Baseline:         p.Baseline,
			Threshold:        p.Threshold,
			Deviation:        p.Deviation,
			Settling:         p.Settling,
			ConfirmRemaining: p.ConfirmRemaining,
		})
	}
	return snap
}

// Status implements web.Controller.
func (a *app) Status() web.Status {
	cur := a.state()
	st := web.Status{
		Level:  uint8(cur.level),
		Error:  cur.err,
		Relay:  a.relay.On(),
		Mode:   a.store.Mode(),
		MQTT:   a.mqtt != nil && a.mqtt.Online(),
		Uptime: time.Since(a.started).Truncate(time.Second).String(),
	}
	for _, p := range cur.probes {
		st.Probes = append(st.Probes, sample.NewProbe(p))
	}
	return st
}

// Reannounce implements web.Controller.
func (a *app) Reannounce(ctx context.Context) error {
	return a.mqtt.Reannounce(ctx)
}

// Restart implements web.Controller.
func (a *app) Restart() {
	select {
	case a.restart <- struct{}{}:
	default:
	}
}
