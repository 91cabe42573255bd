package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Control modes.
const (
	ModeAuto     = "auto"
	ModeExternal = "external"
)

// Sensor kinds.
const (
	KindAnalog  = "analog"
	KindDigital = "digital"
	KindMock    = "mock"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device" json:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Serial   SerialConfig   `yaml:"serial" json:"serial"`
	Sensors  SensorsConfig  `yaml:"sensors" json:"sensors"`
	Detector DetectorConfig `yaml:"detector" json:"detector"`
	Mode     string         `yaml:"mode" json:"mode" validate:"oneof=auto external"`
	Log      LogConfig      `yaml:"log" json:"log"`
	History  HistoryConfig  `yaml:"history" json:"history"`
	Mock     MockConfig     `yaml:"mock" json:"mock"`
}

// DeviceConfig identifies the device on the network.
type DeviceConfig struct {
	Name      string `yaml:"name" json:"name" validate:"required,max=31"`
	BaseTopic string `yaml:"base_topic" json:"base_topic" validate:"required,max=63"`
}

// MQTTConfig contains broker connection settings. An empty host disables MQTT.
type MQTTConfig struct {
	Host      string        `yaml:"host" json:"host" validate:"max=63"`
	Port      uint16        `yaml:"port" json:"port"`
	User      string        `yaml:"user" json:"user" validate:"max=31"`
	Pass      string        `yaml:"pass" json:"pass,omitempty" validate:"max=31"`
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

// WebConfig contains the HTTP API settings. An empty user disables auth.
type WebConfig struct {
	Listen string `yaml:"listen" json:"listen"`
	User   string `yaml:"user" json:"user" validate:"max=31"`
	Pass   string `yaml:"pass" json:"pass,omitempty" validate:"max=31"`
}

// SerialConfig contains the ADC bridge serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baud_rate" json:"baud_rate" validate:"gte=0"`
}

// SensorsConfig selects the sensor front end and its sampling cadence.
type SensorsConfig struct {
	Kind           string        `yaml:"kind" json:"kind" validate:"oneof=analog digital mock"`
	SamplePeriod   time.Duration `yaml:"sample_period" json:"sample_period" validate:"gte=0"`
	ConfirmSamples uint16        `yaml:"confirm_samples" json:"confirm_samples" validate:"lte=255"`
	Sensor50       InputConfig   `yaml:"sensor50" json:"sensor50"`
	Sensor100      InputConfig   `yaml:"sensor100" json:"sensor100"`
	Factory        InputConfig   `yaml:"factory" json:"factory"`
}

// InputConfig describes one physical input. For analog probes TrueHigh means
// the sensor is active while the detector reports Above.
type InputConfig struct {
	Pin      uint8 `yaml:"pin" json:"pin"`
	TrueHigh bool  `yaml:"true_high" json:"true_high"`
	Pullup   bool  `yaml:"pullup" json:"pullup"`
}

// DetectorConfig contains the adaptive analog detector tuning.
//
// The detector only sees changes relative to its baseline, so the first
// reading decides the starting state: readings at or above InitialLevel
// start the sensor wet. Set it between the dry and wet readings of the
// sensors. With 0 every sensor starts dry, and one already submerged at
// boot stays dry until it changes, which keeps the pump running in auto mode.
type DetectorConfig struct {
	ThresholdPct   float32       `yaml:"threshold_pct" json:"threshold_pct" validate:"gte=0,lte=100"`
	MinDeviation   uint16        `yaml:"min_deviation" json:"min_deviation"`
	SettleDuration time.Duration `yaml:"settle_duration" json:"settle_duration" validate:"gte=0"`
	DriftStep      uint16        `yaml:"drift_step" json:"drift_step"`
	MaxRaw         uint16        `yaml:"max_raw" json:"max_raw"`
	InitialLevel   uint16        `yaml:"initial_level" json:"initial_level" validate:"ltefield=MaxRaw"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
}

// HistoryConfig controls the in-memory telemetry history.
type HistoryConfig struct {
	Window         time.Duration `yaml:"window" json:"window" validate:"gte=0"`
	AverageSamples int           `yaml:"average_samples" json:"average_samples" validate:"gte=0"` // Cycles averaged per record (0 = disabled)
}

// MockConfig contains the simulated tank configuration.
type MockConfig struct {
	DryRaw       uint16        `yaml:"dry_raw" json:"dry_raw"`             // Probe reading when dry
	WetRaw       uint16        `yaml:"wet_raw" json:"wet_raw"`             // Probe reading when submerged
	NoiseLevel   uint16        `yaml:"noise_level" json:"noise_level"`     // Peak noise in raw counts
	DriftPerMin  float64       `yaml:"drift_per_min" json:"drift_per_min"` // Slow baseline drift (counts/min)
	DriftLimit   float64       `yaml:"drift_limit" json:"drift_limit"`     // Drift swings within ±limit counts (0 = no drift)
	FillRate     float64       `yaml:"fill_rate" json:"fill_rate"`         // Level gain with pump on (%/s)
	DrainRate    float64       `yaml:"drain_rate" json:"drain_rate"`       // Level loss (%/s)
	InitialLevel float64       `yaml:"initial_level" json:"initial_level"` // Starting level (%)
	SampleRate   time.Duration `yaml:"sample_rate" json:"sample_rate"`     // Raw sample rate
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:      "tank-sensor",
			BaseTopic: "home/tank",
		},
		MQTT: MQTTConfig{
			Port:      1883,
			KeepAlive: 30 * time.Second,
		},
		Web: WebConfig{
			Listen: ":8080",
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Sensors: SensorsConfig{
			Kind:           KindAnalog,
			SamplePeriod:   50 * time.Millisecond,
			ConfirmSamples: 3,
			Sensor50:       InputConfig{Pin: 14, TrueHigh: true, Pullup: true},
			Sensor100:      InputConfig{Pin: 5, TrueHigh: true, Pullup: true},
			Factory:        InputConfig{Pin: 13, TrueHigh: false, Pullup: true},
		},
		Detector: DetectorConfig{
			ThresholdPct:   2,
			MinDeviation:   15,
			SettleDuration: 5 * time.Second,
			DriftStep:      1,
			MaxRaw:         1023,
			InitialLevel:   512,
		},
		Mode: ModeAuto,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			Window:         10 * time.Minute,
			AverageSamples: 20,
		},
		Mock: MockConfig{
			DryRaw:       300,
			WetRaw:       700,
			NoiseLevel:   4,
			DriftPerMin:  2,
			DriftLimit:   30,
			FillRate:     2,
			DrainRate:    0.5,
			InitialLevel: 20,
			SampleRate:   10 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. The returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Device.Name == "" {
		c.Device.Name = def.Device.Name
	}
	if c.Device.BaseTopic == "" {
		c.Device.BaseTopic = def.Device.BaseTopic
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = def.MQTT.Port
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = def.MQTT.KeepAlive
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Sensors.Kind == "" {
		c.Sensors.Kind = def.Sensors.Kind
	}
	if c.Sensors.SamplePeriod == 0 {
		c.Sensors.SamplePeriod = def.Sensors.SamplePeriod
	}
	if c.Sensors.ConfirmSamples == 0 {
		c.Sensors.ConfirmSamples = def.Sensors.ConfirmSamples
	}

	if c.Detector.MaxRaw == 0 {
		c.Detector.MaxRaw = def.Detector.MaxRaw
	}

	if c.Mode != ModeExternal {
		c.Mode = ModeAuto
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.History.Window == 0 {
		c.History.Window = def.History.Window
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.WetRaw == 0 {
		c.Mock.WetRaw = def.Mock.WetRaw
	}
}
