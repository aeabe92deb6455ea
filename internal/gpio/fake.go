package gpio

import (
	"errors"
	"sync"
)

// ChipSample is one scripted conversion delivered by a FakePair.
type ChipSample struct {
	// Raw is the 24-bit accumulator the chip shifts out, MSB first.
	Raw uint32
	// Absent keeps the data line high for the whole cycle (chip missing,
	// unpowered or wedged).
	Absent bool
}

// FakePair is a test double that simulates a load-cell amplifier wired to a
// clock/data pair. Each acquisition cycle consumes the next sample; once the
// samples are exhausted the last one repeats.
//
// A cycle starts when the clock is driven low while already low. The data line
// reads high for NotReadyPolls polls, then low, then presents bit 23-k after
// the k-th rising clock edge.
type FakePair struct {
	mu sync.Mutex

	// Samples contains the scripted conversions.
	Samples []ChipSample

	// NotReadyPolls is how many data reads return high before the chip
	// signals ready in each cycle.
	NotReadyPolls int

	// SetError, if set, is returned by SetClock.
	SetError error
	// ReadError, if set, is returned by Data.
	ReadError error
	// CloseError, if set, is returned by Close.
	CloseError error

	// Pulses counts rising clock edges since construction.
	Pulses int
	// Reads counts Data calls since construction.
	Reads int
	// Writes counts SetClock calls since construction.
	Writes int
	// CyclePulses records the rising edges seen in each completed or
	// abandoned cycle, in order.
	CyclePulses []int

	// Closed tracks if Close was called.
	Closed bool

	index   int
	started bool
	clock   bool
	pulses  int
	polls   int
}

// NewFakePair creates a FakePair that delivers the given raw accumulators.
func NewFakePair(raws ...uint32) *FakePair {
	f := &FakePair{}
	for _, r := range raws {
		f.Samples = append(f.Samples, ChipSample{Raw: r})
	}
	return f
}

// NewAbsentPair creates a FakePair whose data line never goes low.
func NewAbsentPair() *FakePair {
	return &FakePair{Samples: []ChipSample{{Absent: true}}}
}

// FakeOpener returns an Opener handing out the given pairs keyed by clock pin.
// Opening an unknown clock pin fails.
func FakeOpener(pairs map[int]*FakePair) Opener {
	return func(clock, data int) (Pair, error) {
		p, ok := pairs[clock]
		if !ok {
			return nil, errors.New("fake: no pair for clock pin")
		}
		return p, nil
	}
}

// SetClock records clock edges and starts a new cycle when the clock is
// driven low while already low.
func (f *FakePair) SetClock(high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.Writes++

	switch {
	case high && !f.clock:
		f.Pulses++
		f.pulses++
	case !high && !f.clock:
		f.newCycle()
	}
	f.clock = high
	return nil
}

// Data returns the simulated data line level.
func (f *FakePair) Data() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}
	f.Reads++

	s := f.current()
	if f.pulses == 0 {
		if s.Absent {
			return true, nil
		}
		if f.polls < f.NotReadyPolls {
			f.polls++
			return true, nil
		}
		return false, nil
	}
	if f.pulses > 24 {
		// Conversion shifted out: high until the next one is ready.
		return true, nil
	}
	return s.Raw&(1<<uint(24-f.pulses)) != 0, nil
}

// Close marks the pair as closed.
func (f *FakePair) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseError
}

// Clock reports the current clock level.
func (f *FakePair) Clock() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

// Counts returns the pulse, read and write counters.
func (f *FakePair) Counts() (pulses, reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pulses, f.Reads, f.Writes
}

// IsClosed reports whether Close was called.
func (f *FakePair) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// SetSamples replaces the remaining script; the next cycle delivers samples[0].
func (f *FakePair) SetSamples(samples ...ChipSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Samples = samples
	f.index = 0
	f.started = false
}

func (f *FakePair) newCycle() {
	if f.started {
		f.CyclePulses = append(f.CyclePulses, f.pulses)
		if f.index < len(f.Samples)-1 {
			f.index++
		}
	}
	f.started = true
	f.pulses = 0
	f.polls = 0
}

func (f *FakePair) current() ChipSample {
	if len(f.Samples) == 0 {
		return ChipSample{Absent: true}
	}
	return f.Samples[f.index]
}
