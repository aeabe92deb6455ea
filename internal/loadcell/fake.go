package loadcell

import (
	"sync"
	"time"
)

// FakeScheduler is a test double that holds callbacks until Fire is called.
type FakeScheduler struct {
	mu      sync.Mutex
	pending []*fakeTimer
	armed   int
	delays  []time.Duration
}

type fakeTimer struct {
	s       *FakeScheduler
	f       func()
	stopped bool
	fired   bool
}

// NewFakeScheduler creates an empty FakeScheduler.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

// AfterFunc records the callback without running it.
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, f: f}
	s.pending = append(s.pending, t)
	s.armed++
	s.delays = append(s.delays, d)
	return t
}

// Fire runs every callback pending at the time of the call, in the order they
// were armed, and returns how many ran. Callbacks armed by those callbacks
// stay pending.
func (s *FakeScheduler) Fire() int {
	s.mu.Lock()
	due := s.pending
	s.pending = nil
	s.mu.Unlock()

	n := 0
	for _, t := range due {
		s.mu.Lock()
		run := !t.stopped
		t.fired = run
		s.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

// Pending returns the number of armed callbacks not yet fired or stopped.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Armed returns the total number of AfterFunc calls.
func (s *FakeScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// LastDelay returns the delay of the most recent AfterFunc call.
func (s *FakeScheduler) LastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delays) == 0 {
		return 0
	}
	return s.delays[len(s.delays)-1]
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
