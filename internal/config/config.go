// Package config loads the weight-sensor configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/weight-sensor/internal/gpio"
	"github.com/sweeney/weight-sensor/internal/hx711"
	"github.com/sweeney/weight-sensor/internal/loadcell"
	"github.com/sweeney/weight-sensor/internal/logic"
)

// Config represents the daemon configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Channels  []ChannelConfig `yaml:"channels"`
	Poll      time.Duration   `yaml:"poll"`      // run loop period (export, detector)
	Heartbeat time.Duration   `yaml:"heartbeat"` // 0 disables
	Stability StabilityConfig `yaml:"stability"`
	Export    ExportConfig    `yaml:"export"`
	Store     StoreConfig     `yaml:"store"`
}

// GPIOConfig selects the line backend.
type GPIOConfig struct {
	Backend string `yaml:"backend"` // gpiocdev or periph
	Chip    string `yaml:"chip"`    // gpiocdev only
}

// ChannelConfig describes one load cell.
type ChannelConfig struct {
	Name     string        `yaml:"name"`
	Clock    int           `yaml:"clock"` // BCM pin
	Data     int           `yaml:"data"`  // BCM pin
	Scale    int32         `yaml:"scale"`
	Interval time.Duration `yaml:"interval"`
	Gain     int           `yaml:"gain"`
	MaxWait  int           `yaml:"max_wait"`
}

// StabilityConfig controls settle and change events.
type StabilityConfig struct {
	Window    int   `yaml:"window"`
	Threshold int32 `yaml:"threshold"` // grams
}

// ExportConfig locates the per-channel reading files.
type ExportConfig struct {
	Dir string `yaml:"dir"` // empty disables
}

// StoreConfig locates the SQLite journal.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables
}

// Default returns the configuration of the original two-scale rig.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		GPIO: GPIOConfig{
			Backend: gpio.BackendCdev,
			Chip:    gpio.DefaultChip,
		},
		Channels: []ChannelConfig{
			{Name: "weight1", Clock: 3, Data: 2, Scale: 421, Interval: loadcell.DefaultInterval, Gain: int(hx711.Gain128)},
			{Name: "weight2", Clock: 27, Data: 17, Scale: 426, Interval: loadcell.DefaultInterval, Gain: int(hx711.Gain128)},
		},
		Poll:      500 * time.Millisecond,
		Heartbeat: 15 * time.Minute,
		Stability: StabilityConfig{
			Window:    logic.DefaultStability.Window,
			Threshold: logic.DefaultStability.Threshold,
		},
		Export: ExportConfig{Dir: "/run/weight-sensor"},
		Store:  StoreConfig{Path: ""},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; missing fields are filled from the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	return cfg, nil
}

// ensureDefaults fills zero fields from Default. Threshold and heartbeat are
// left alone since zero is a valid setting for both.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.GPIO.Backend == "" {
		c.GPIO.Backend = def.GPIO.Backend
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = def.GPIO.Chip
	}
	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	for i := range c.Channels {
		if c.Channels[i].Interval == 0 {
			c.Channels[i].Interval = loadcell.DefaultInterval
		}
		if c.Channels[i].Gain == 0 {
			c.Channels[i].Gain = int(hx711.Gain128)
		}
	}
	if c.Poll == 0 {
		c.Poll = def.Poll
	}
	if c.Stability.Window == 0 {
		c.Stability.Window = def.Stability.Window
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs error

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid log_format %q (allowed: text, json)", c.LogFormat))
	}
	switch c.GPIO.Backend {
	case gpio.BackendCdev, gpio.BackendPeriph:
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid gpio.backend %q (allowed: %s, %s)", c.GPIO.Backend, gpio.BackendCdev, gpio.BackendPeriph))
	}
	if len(c.Channels) == 0 {
		errs = multierr.Append(errs, errors.New("no channels configured"))
	}
	for _, ch := range c.LoadCells() {
		errs = multierr.Append(errs, ch.Validate())
	}
	if c.Poll <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("poll must be positive, got %v", c.Poll))
	}
	if c.Heartbeat < 0 {
		errs = multierr.Append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if c.Stability.Window < 1 {
		errs = multierr.Append(errs, fmt.Errorf("stability.window must be at least 1, got %d", c.Stability.Window))
	}
	if c.Stability.Threshold < 0 {
		errs = multierr.Append(errs, fmt.Errorf("stability.threshold must not be negative, got %d", c.Stability.Threshold))
	}
	return errs
}

// LoadCells converts the channel entries into loadcell configs.
func (c *Config) LoadCells() []loadcell.Config {
	out := make([]loadcell.Config, 0, len(c.Channels))
	for _, ch := range c.Channels {
		out = append(out, loadcell.Config{
			Name:     ch.Name,
			ClockPin: ch.Clock,
			DataPin:  ch.Data,
			Scale:    ch.Scale,
			Interval: ch.Interval,
			Gain:     hx711.Gain(ch.Gain),
			MaxWait:  ch.MaxWait,
		})
	}
	return out
}

// DetectorConfig returns the detector settings.
func (c *Config) DetectorConfig() logic.StabilityConfig {
	return logic.StabilityConfig{Window: c.Stability.Window, Threshold: c.Stability.Threshold}
}

// ParseLevel converts a log level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log_level %q (allowed: debug, info, warn, error)", s)
}
