package gpio

import (
	"fmt"

	"go.uber.org/multierr"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPair drives a clock/data pair through periph.io host drivers.
type PeriphPair struct {
	clock pgpio.PinIO
	data  pgpio.PinIO
}

// NewPeriphOpener initializes the periph.io host drivers and returns an Opener
// that resolves BCM pin numbers as "GPIO<n>".
func NewPeriphOpener() (Opener, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return func(clock, data int) (Pair, error) {
		return NewPeriphPair(clock, data)
	}, nil
}

// NewPeriphPair configures the clock pin as an output driven low and the data
// pin as a floating input. host.Init must have been called.
func NewPeriphPair(clock, data int) (*PeriphPair, error) {
	clockPin := gpioreg.ByName(pinName(clock))
	if clockPin == nil {
		return nil, fmt.Errorf("clock pin %d: not found", clock)
	}
	dataPin := gpioreg.ByName(pinName(data))
	if dataPin == nil {
		return nil, fmt.Errorf("data pin %d: not found", data)
	}

	if err := clockPin.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("configure clock pin %d: %w", clock, err)
	}
	if err := dataPin.In(pgpio.Float, pgpio.NoEdge); err != nil {
		clockPin.Halt()
		return nil, fmt.Errorf("configure data pin %d: %w", data, err)
	}

	return &PeriphPair{clock: clockPin, data: dataPin}, nil
}

// SetClock drives the clock pin.
func (p *PeriphPair) SetClock(high bool) error {
	return p.clock.Out(pgpio.Level(high))
}

// Data reads the data pin.
func (p *PeriphPair) Data() (bool, error) {
	return bool(p.data.Read()), nil
}

// Close leaves the clock low and halts both pins.
func (p *PeriphPair) Close() error {
	var err error
	if p.clock != nil {
		if e := p.clock.Out(pgpio.Low); e != nil {
			err = multierr.Append(err, fmt.Errorf("drive clock low: %w", e))
		}
		if e := p.clock.Halt(); e != nil {
			err = multierr.Append(err, fmt.Errorf("halt clock pin: %w", e))
		}
		p.clock = nil
	}
	if p.data != nil {
		if e := p.data.Halt(); e != nil {
			err = multierr.Append(err, fmt.Errorf("halt data pin: %w", e))
		}
		p.data = nil
	}
	return err
}

func pinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}

// NewOpener returns the Opener for the named backend.
func NewOpener(backend, chip string) (Opener, error) {
	switch backend {
	case "", BackendCdev:
		return NewCdevOpener(chip), nil
	case BackendPeriph:
		return NewPeriphOpener()
	default:
		return nil, fmt.Errorf("unknown gpio backend %q (allowed: %s, %s)", backend, BackendCdev, BackendPeriph)
	}
}
