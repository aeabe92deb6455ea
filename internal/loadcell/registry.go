package loadcell

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/sweeney/weight-sensor/internal/gpio"
	"github.com/sweeney/weight-sensor/internal/hx711"
	"github.com/sweeney/weight-sensor/internal/logic"
)

// Registry holds independently configured channels by name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	names    []string
	closed   bool
}

// Open validates every config, then constructs each channel independently.
//
// Invalid, duplicate or overlapping configs fail the whole call before any
// line is opened. A channel that fails to open or tare is left out; the
// registry of the remaining channels is returned together with the joined
// construction errors.
func Open(cfgs []Config, open gpio.Opener, sched Scheduler, logger *slog.Logger, opts ...hx711.Option) (*Registry, error) {
	if err := validateAll(cfgs); err != nil {
		return nil, err
	}

	r := &Registry{channels: make(map[string]*Channel, len(cfgs))}
	var errs error
	for _, cfg := range cfgs {
		ch, err := New(cfg, open, sched, logger, opts...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.channels[cfg.Name] = ch
		r.names = append(r.names, cfg.Name)
	}
	return r, errs
}

func validateAll(cfgs []Config) error {
	var errs error
	names := make(map[string]bool)
	pins := make(map[int]string)
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if names[cfg.Name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: duplicate channel %q", ErrInvalidConfig, cfg.Name))
			continue
		}
		names[cfg.Name] = true
		for _, pin := range []int{cfg.ClockPin, cfg.DataPin} {
			if owner, ok := pins[pin]; ok {
				errs = multierr.Append(errs, fmt.Errorf("%w: pin %d used by %s and %s", ErrInvalidConfig, pin, owner, cfg.Name))
				continue
			}
			pins[pin] = cfg.Name
		}
	}
	return errs
}

// Names returns channel names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Get returns a channel by name.
func (r *Registry) Get(name string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return ch, nil
}

// Reading returns the last reading of the named channel.
func (r *Registry) Reading(name string) (int32, error) {
	ch, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return ch.Reading(), nil
}

// State returns the state of the named channel.
func (r *Registry) State(name string) (logic.State, error) {
	ch, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return ch.State(), nil
}

// Resume re-arms the named FAULTED channel.
func (r *Registry) Resume(name string) error {
	ch, err := r.Get(name)
	if err != nil {
		return err
	}
	return ch.Resume()
}

// ResumeAll re-arms every FAULTED channel and returns the resumed names.
// Channels that are not faulted are skipped.
func (r *Registry) ResumeAll() ([]string, error) {
	var resumed []string
	var errs error
	for _, name := range r.Names() {
		err := r.Resume(name)
		switch {
		case err == nil:
			resumed = append(resumed, name)
		case errors.Is(err, ErrNotFaulted):
		default:
			errs = multierr.Append(errs, err)
		}
	}
	return resumed, errs
}

// Snapshot returns a snapshot of every channel in configuration order.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.channels[name].Snapshot())
	}
	return out
}

// Close closes every channel. Calling Close more than once is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs error
	for _, name := range r.names {
		errs = multierr.Append(errs, r.channels[name].Close())
	}
	return errs
}
