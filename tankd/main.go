package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/gotank/pkg/config"
	"github.com/itohio/gotank/pkg/logger"
	"github.com/itohio/gotank/pkg/sensor"
)

type flags struct {
	config   string
	port     string
	mock     bool
	logLevel string
	average  int
}

func main() {
	var f flags
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	flag.StringVar(&f.config, "config", "config.yaml", "Configuration file path")
	flag.StringVar(&f.port, "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
	flag.BoolVar(&f.mock, "mock", false, "Use a simulated tank instead of the serial bridge")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")
	flag.IntVar(&f.average, "average-samples", -1, "Cycles averaged per history record (0 = disabled, overrides config)")
	flag.Parse()

	if *listPorts {
		ports, err := sensor.Ports()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		restart, err := run(ctx, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tankd: %v\n", err)
			os.Exit(1)
		}
		if !restart || ctx.Err() != nil {
			return
		}
	}
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f flags) {
	if f.port != "" {
		cfg.Serial.Port = f.port
	}
	if f.mock {
		cfg.Sensors.Kind = config.KindMock
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.average >= 0 {
		cfg.History.AverageSamples = f.average
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "tankd",
		Fields:    map[string]string{"device": cfg.Device.Name},
	})
}

// openDevice creates the sensor front end selected by the configuration.
func openDevice(cfg *config.Config, log zerolog.Logger) sensor.Device {
	if cfg.Sensors.Kind == config.KindMock {
		return sensor.NewMock(&cfg.Mock, cfg.Detector.MaxRaw)
	}
	dev := sensor.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, log)
	dev.SetPullups(cfg.Sensors.Sensor50.Pullup, cfg.Sensors.Sensor100.Pullup, cfg.Sensors.Factory.Pullup)
	return dev
}

// frameCounter is implemented by devices that report received frames.
type frameCounter interface {
	Stats() (frames uint64, last time.Time)
}

// awaitFrames waits until the device has delivered a frame, so inputs read
// real levels. Devices without frame statistics return immediately.
func awaitFrames(ctx context.Context, dev sensor.Device, timeout time.Duration) bool {
	fc, ok := dev.(frameCounter)
	if !ok {
		return true
	}
	deadline := time.Now().Add(timeout)
	for {
		if n, _ := fc.Stats(); n > 0 {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// resetConfig removes the configuration file and returns the defaults.
func resetConfig(path string) (*config.Config, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove configuration: %w", err)
	}
	return config.Default(), nil
}
