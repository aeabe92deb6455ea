//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// consumer labels the requested lines in gpioinfo output.
const consumer = "weight-sensor"

// CdevPair drives a clock/data pair through the Linux GPIO character device.
type CdevPair struct {
	clock *gpiocdev.Line
	data  *gpiocdev.Line
}

// NewCdevOpener returns an Opener requesting lines from the named chip.
func NewCdevOpener(chip string) Opener {
	if chip == "" {
		chip = DefaultChip
	}
	return func(clock, data int) (Pair, error) {
		return NewCdevPair(chip, clock, data)
	}
}

// NewCdevPair requests the clock line as an output driven low and the data
// line as an input.
func NewCdevPair(chip string, clock, data int) (*CdevPair, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}
	// Requested lines stay valid after the chip handle is closed.
	defer c.Close()

	clockLine, err := c.RequestLine(clock, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request clock pin %d: %w", clock, err)
	}

	dataLine, err := c.RequestLine(data, gpiocdev.AsInput)
	if err != nil {
		clockLine.Close()
		return nil, fmt.Errorf("request data pin %d: %w", data, err)
	}

	return &CdevPair{clock: clockLine, data: dataLine}, nil
}

// SetClock drives the clock line.
func (p *CdevPair) SetClock(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return p.clock.SetValue(v)
}

// Data reads the data line.
func (p *CdevPair) Data() (bool, error) {
	v, err := p.data.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Close leaves the clock low and releases both lines. Safe to call twice.
func (p *CdevPair) Close() error {
	var err error
	if p.clock != nil {
		// A clock left high for more than 60us powers the amplifier down.
		if e := p.clock.SetValue(0); e != nil {
			err = multierr.Append(err, fmt.Errorf("drive clock low: %w", e))
		}
		if e := p.clock.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("close clock pin: %w", e))
		}
		p.clock = nil
	}
	if p.data != nil {
		if e := p.data.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("close data pin: %w", e))
		}
		p.data = nil
	}
	return err
}
