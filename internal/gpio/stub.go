//go:build !linux

package gpio

import "errors"

// CdevPair is not available on non-Linux platforms.
type CdevPair struct{}

// NewCdevOpener returns an Opener that always fails on non-Linux platforms.
func NewCdevOpener(chip string) Opener {
	return func(clock, data int) (Pair, error) {
		return NewCdevPair(chip, clock, data)
	}
}

// NewCdevPair returns an error on non-Linux platforms.
func NewCdevPair(chip string, clock, data int) (*CdevPair, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// SetClock is not implemented on non-Linux platforms.
func (p *CdevPair) SetClock(high bool) error {
	return errors.New("gpio: not supported")
}

// Data is not implemented on non-Linux platforms.
func (p *CdevPair) Data() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *CdevPair) Close() error {
	return nil
}
