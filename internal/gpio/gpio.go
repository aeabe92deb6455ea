// Package gpio provides the two-line clock/data capability used to talk to a
// load-cell amplifier, with hardware abstraction.
// The real implementations use the Linux GPIO character device or periph.io.
// The fake implementation simulates the amplifier so tests need no hardware.
package gpio

// Pair is the clock/data line pair owned by a single channel.
type Pair interface {
	// SetClock drives the clock output line high or low.
	SetClock(high bool) error

	// Data returns the level of the data input line (true = high).
	Data() (bool, error)

	// Close drives the clock low and releases both lines.
	Close() error
}

// Opener acquires exclusive ownership of a clock and data line, configures the
// clock as an output (initially low) and the data line as an input.
type Opener func(clock, data int) (Pair, error)

// Backend names accepted by NewOpener.
const (
	BackendCdev   = "gpiocdev"
	BackendPeriph = "periph"
)

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"
