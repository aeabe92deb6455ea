// Package hx711 reads conversions from an HX711 load-cell amplifier over a
// bit-banged clock/data pair.
//
// The clock must not stay high for more than 60us or the chip powers down, so
// a read is one uninterruptible sequence. The only escape is the bounded wait
// for the chip to signal data ready.
package hx711

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

const (
	// bits is the width of one conversion.
	bits = 24
	// signBit is bit 23 of the 24-bit two's complement field.
	signBit = 0x800000
	mask    = 0xFFFFFF

	// DefaultMaxWait bounds the data-ready poll, in hold units.
	DefaultMaxWait = 1_000_000
	// DefaultHold is the clock half-period and the poll interval.
	DefaultHold = time.Microsecond
)

// ErrTimeout is returned when the data line never went low within the bound:
// the chip is absent, unpowered or wedged.
var ErrTimeout = errors.New("hx711: timed out waiting for data ready")

// Gain selects the input channel and gain of the next conversion by the
// number of clock pulses issued after the 24 data bits.
type Gain int

const (
	Gain128 Gain = 128 // channel A, 1 extra pulse
	Gain32  Gain = 32  // channel B, 2 extra pulses
	Gain64  Gain = 64  // channel A, 3 extra pulses
)

func (g Gain) pulses() int {
	switch g {
	case Gain128:
		return 1
	case Gain32:
		return 2
	case Gain64:
		return 3
	}
	return 0
}

// Valid reports whether g is one of the gains the chip supports.
func (g Gain) Valid() bool {
	return g.pulses() > 0
}

// Lines is the clock/data pair a Reader drives.
type Lines interface {
	SetClock(high bool) error
	Data() (bool, error)
}

// Reader performs acquisition cycles on one clock/data pair.
type Reader struct {
	lines   Lines
	gain    Gain
	maxWait int
	hold    time.Duration
	delay   func(time.Duration)
}

// Option configures a Reader.
type Option func(*Reader)

// WithGain sets the gain selected for subsequent conversions.
func WithGain(g Gain) Option {
	return func(r *Reader) { r.gain = g }
}

// WithMaxWait sets how many hold units to wait for data ready.
func WithMaxWait(n int) Option {
	return func(r *Reader) { r.maxWait = n }
}

// WithHold sets the clock half-period and the poll interval.
func WithHold(d time.Duration) Option {
	return func(r *Reader) { r.hold = d }
}

// WithDelay replaces the delay primitive. Tests pass a no-op.
func WithDelay(f func(time.Duration)) Option {
	return func(r *Reader) { r.delay = f }
}

// New creates a Reader. Defaults: Gain128, DefaultMaxWait, DefaultHold, Spin.
func New(lines Lines, opts ...Option) (*Reader, error) {
	r := &Reader{
		lines:   lines,
		gain:    Gain128,
		maxWait: DefaultMaxWait,
		hold:    DefaultHold,
		delay:   Spin,
	}
	for _, o := range opts {
		o(r)
	}

	if r.lines == nil {
		return nil, errors.New("hx711: nil lines")
	}
	if !r.gain.Valid() {
		return nil, fmt.Errorf("hx711: invalid gain %d (allowed: 128, 64, 32)", r.gain)
	}
	if r.maxWait <= 0 {
		return nil, fmt.Errorf("hx711: max wait must be positive, got %d", r.maxWait)
	}
	if r.hold < 0 {
		return nil, fmt.Errorf("hx711: hold must not be negative, got %v", r.hold)
	}
	if r.delay == nil {
		return nil, errors.New("hx711: nil delay")
	}
	return r, nil
}

// Gain returns the configured gain.
func (r *Reader) Gain() Gain {
	return r.gain
}

// Read performs one acquisition cycle and returns the sign-flipped 24-bit
// conversion. It returns ErrTimeout, without clocking the chip, if data ready
// is not signalled within the bound. The clock is left low.
//
// Read blocks the calling goroutine on its OS thread for the whole cycle and
// must not be called concurrently on the same lines.
func (r *Reader) Read() (int32, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.lines.SetClock(false); err != nil {
		return 0, fmt.Errorf("hx711: clock low: %w", err)
	}

	if err := r.waitReady(); err != nil {
		return 0, err
	}

	var count uint32
	for i := 0; i < bits; i++ {
		if err := r.lines.SetClock(true); err != nil {
			return 0, r.abort(fmt.Errorf("hx711: clock high at bit %d: %w", i, err))
		}
		r.delay(r.hold)
		count <<= 1
		if err := r.lines.SetClock(false); err != nil {
			return 0, r.abort(fmt.Errorf("hx711: clock low at bit %d: %w", i, err))
		}
		r.delay(r.hold)

		high, err := r.lines.Data()
		if err != nil {
			return 0, r.abort(fmt.Errorf("hx711: read bit %d: %w", i, err))
		}
		if high {
			count++
		}
	}

	for i := 0; i < r.gain.pulses(); i++ {
		if err := r.lines.SetClock(true); err != nil {
			return 0, r.abort(fmt.Errorf("hx711: gain pulse: %w", err))
		}
		r.delay(r.hold)
		if err := r.lines.SetClock(false); err != nil {
			return 0, r.abort(fmt.Errorf("hx711: gain pulse: %w", err))
		}
		r.delay(r.hold)
	}

	return SignFlip(count), nil
}

// waitReady polls the data line until the chip pulls it low.
func (r *Reader) waitReady() error {
	for wait := 0; ; wait++ {
		high, err := r.lines.Data()
		if err != nil {
			return fmt.Errorf("hx711: poll data ready: %w", err)
		}
		if !high {
			return nil
		}
		if wait >= r.maxWait {
			return ErrTimeout
		}
		r.delay(r.hold)
	}
}

// abort makes a best-effort attempt to leave the clock low after a line error.
func (r *Reader) abort(err error) error {
	_ = r.lines.SetClock(false)
	return err
}

// SignFlip inverts bit 23 of a 24-bit accumulator without sign extension:
// 0x000000 becomes 0x800000 and 0xFFFFFF becomes 0x7FFFFF. Every sample of a
// channel, the tare included, goes through the same flip, so differences
// between samples are exact.
func SignFlip(u uint32) int32 {
	return int32((u & mask) ^ signBit)
}

// Spin busy-waits for d. time.Sleep cannot hold a microsecond clock phase.
func Spin(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}
