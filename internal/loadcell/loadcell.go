// Package loadcell composes a line pair, an HX711 reader, a tare offset and a
// periodic sampler into independent weight channels.
//
// A channel is INITIALIZING while its lines are acquired and tared, READY
// while its sampler is armed, and FAULTED after an acquisition fails. A
// FAULTED channel stops sampling and keeps its last good reading until an
// explicit Resume; it never recovers on its own.
package loadcell

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/sweeney/weight-sensor/internal/gpio"
	"github.com/sweeney/weight-sensor/internal/hx711"
	"github.com/sweeney/weight-sensor/internal/logic"
)

var (
	// ErrInvalidConfig is returned for a configuration rejected before any
	// hardware access.
	ErrInvalidConfig = errors.New("loadcell: invalid channel config")
	// ErrCalibration is returned when the tare read fails.
	ErrCalibration = errors.New("loadcell: calibration failed")
	// ErrUnknownChannel is returned by registry lookups of a missing name.
	ErrUnknownChannel = errors.New("loadcell: unknown channel")
	// ErrClosed is returned when operating on a closed channel or registry.
	ErrClosed = errors.New("loadcell: closed")
	// ErrNotFaulted is returned by Resume on a channel that is not FAULTED.
	ErrNotFaulted = errors.New("loadcell: channel not faulted")
)

// CalibrationError reports a channel whose tare read failed. It matches
// ErrCalibration and unwraps to the acquisition error.
type CalibrationError struct {
	Channel string
	Err     error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrCalibration, e.Channel, e.Err)
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCalibration.
func (e *CalibrationError) Is(target error) bool { return target == ErrCalibration }

// DefaultInterval is the sampling period of the original hardware.
const DefaultInterval = time.Second

// Config is the construction-time configuration of one channel.
type Config struct {
	Name     string
	ClockPin int
	DataPin  int
	// Scale divides offset-corrected counts into grams. Must be positive.
	Scale    int32
	Interval time.Duration
	// Gain defaults to hx711.Gain128 when zero.
	Gain hx711.Gain
	// MaxWait defaults to hx711.DefaultMaxWait when zero.
	MaxWait int
}

// Validate checks the config without touching hardware.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidConfig)
	case c.Scale <= 0:
		return fmt.Errorf("%w: %s: scale must be positive, got %d", ErrInvalidConfig, c.Name, c.Scale)
	case c.Interval <= 0:
		return fmt.Errorf("%w: %s: interval must be positive, got %v", ErrInvalidConfig, c.Name, c.Interval)
	case c.ClockPin < 0 || c.DataPin < 0:
		return fmt.Errorf("%w: %s: negative pin", ErrInvalidConfig, c.Name)
	case c.ClockPin == c.DataPin:
		return fmt.Errorf("%w: %s: clock and data share pin %d", ErrInvalidConfig, c.Name, c.ClockPin)
	case c.Gain != 0 && !c.Gain.Valid():
		return fmt.Errorf("%w: %s: gain %d (allowed: 128, 64, 32)", ErrInvalidConfig, c.Name, c.Gain)
	case c.MaxWait < 0:
		return fmt.Errorf("%w: %s: max wait must not be negative", ErrInvalidConfig, c.Name)
	}
	return nil
}

func (c Config) readerOptions() []hx711.Option {
	var opts []hx711.Option
	if c.Gain != 0 {
		opts = append(opts, hx711.WithGain(c.Gain))
	}
	if c.MaxWait != 0 {
		opts = append(opts, hx711.WithMaxWait(c.MaxWait))
	}
	return opts
}

// Snapshot is a point-in-time view of a channel.
type Snapshot struct {
	Name     string
	ClockPin int
	DataPin  int
	Scale    int32
	Offset   int32
	Grams    int32
	Raw      int32
	State    logic.State
	// Sampled is the time of the last successful sample; zero before the first.
	Sampled   time.Time
	Faults    int
	LastError string
}

// Channel is one load cell: its lines, tare offset, sampler and last reading.
type Channel struct {
	cfg    Config
	pair   gpio.Pair
	reader *hx711.Reader
	sched  Scheduler
	log    *slog.Logger
	offset int32

	// tickMu serializes ticks with Resume and Close.
	tickMu sync.Mutex
	timer  Timer
	closed bool

	mu      sync.RWMutex
	state   logic.State
	grams   int32
	raw     int32
	sampled time.Time
	faults  int
	lastErr error
}

// New acquires the channel's lines, tares it and arms the first tick.
// Extra reader options are applied after the ones derived from cfg.
//
// On an invalid config nothing is opened. If the tare read fails the lines are
// released and the returned error wraps both ErrCalibration and the cause.
func New(cfg Config, open gpio.Opener, sched Scheduler, logger *slog.Logger, opts ...hx711.Option) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", cfg.Name)

	pair, err := open(cfg.ClockPin, cfg.DataPin)
	if err != nil {
		return nil, fmt.Errorf("loadcell: %s: open lines %d/%d: %w", cfg.Name, cfg.ClockPin, cfg.DataPin, err)
	}

	reader, err := hx711.New(pair, append(cfg.readerOptions(), opts...)...)
	if err != nil {
		return nil, multierr.Append(
			fmt.Errorf("%w: %s: %v", ErrInvalidConfig, cfg.Name, err),
			releaseLines(cfg.Name, pair))
	}

	c := &Channel{
		cfg:    cfg,
		pair:   pair,
		reader: reader,
		sched:  sched,
		log:    logger,
		state:  logic.StateInitializing,
	}

	offset, err := c.reader.Read()
	if err != nil {
		logger.Error("tare failed", "err", err)
		return nil, multierr.Append(
			&CalibrationError{Channel: cfg.Name, Err: err},
			releaseLines(cfg.Name, pair))
	}
	c.offset = offset
	logger.Info("auto-tare offset", "offset", offset)

	c.tickMu.Lock()
	c.setState(logic.StateReady)
	c.arm()
	c.tickMu.Unlock()

	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.cfg.Name
}

// Offset returns the tare offset captured at construction.
func (c *Channel) Offset() int32 {
	return c.offset
}

// Reading returns the last converted weight in grams, 0 before the first
// successful sample.
func (c *Channel) Reading() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grams
}

// State returns the current channel state.
func (c *Channel) State() logic.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns a copy of the channel state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Name:     c.cfg.Name,
		ClockPin: c.cfg.ClockPin,
		DataPin:  c.cfg.DataPin,
		Scale:    c.cfg.Scale,
		Offset:   c.offset,
		Grams:    c.grams,
		Raw:      c.raw,
		State:    c.state,
		Sampled:  c.sampled,
		Faults:   c.faults,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Resume re-arms sampling on a FAULTED channel.
func (c *Channel) Resume() error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.closed {
		return fmt.Errorf("%s: %w", c.cfg.Name, ErrClosed)
	}
	if st := c.State(); st != logic.StateFaulted {
		return fmt.Errorf("%s is %s: %w", c.cfg.Name, st, ErrNotFaulted)
	}
	c.setState(logic.StateReady)
	c.arm()
	c.log.Info("sampling resumed")
	return nil
}

// Close cancels any pending tick, waits for one in flight and releases the
// lines. Calling Close more than once is a no-op.
func (c *Channel) Close() error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.setState(logic.StateClosed)
	return releaseLines(c.cfg.Name, c.pair)
}

func releaseLines(name string, pair gpio.Pair) error {
	if err := pair.Close(); err != nil {
		return fmt.Errorf("loadcell: %s: release lines: %w", name, err)
	}
	return nil
}

// tick runs one sampling cycle. It reschedules itself only on success.
func (c *Channel) tick() {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.closed {
		return
	}
	c.timer = nil

	raw, err := c.reader.Read()
	if err != nil {
		c.mu.Lock()
		c.state = logic.StateFaulted
		c.faults++
		c.lastErr = err
		c.mu.Unlock()

		if errors.Is(err, hx711.ErrTimeout) {
			c.log.Warn("timeout on channel", "err", err)
		} else {
			c.log.Error("acquisition failed on channel", "err", err)
		}
		return
	}

	grams := logic.Convert(raw, c.offset, c.cfg.Scale)

	c.mu.Lock()
	c.raw = raw
	c.grams = grams
	c.sampled = time.Now()
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Debug("sample", "raw", raw, "grams", grams)
	c.arm()
}

// arm schedules the next tick. Caller holds tickMu.
func (c *Channel) arm() {
	c.timer = c.sched.AfterFunc(c.cfg.Interval, c.tick)
}

func (c *Channel) setState(s logic.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
