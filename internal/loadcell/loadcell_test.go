package loadcell

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/sweeney/weight-sensor/internal/gpio"
	"github.com/sweeney/weight-sensor/internal/hx711"
	"github.com/sweeney/weight-sensor/internal/logic"
)

var noDelay = hx711.WithDelay(func(time.Duration) {})

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(name string, clock, data int) Config {
	return Config{Name: name, ClockPin: clock, DataPin: data, Scale: 421, Interval: time.Second}
}

func openPair(p *gpio.FakePair) gpio.Opener {
	return func(clock, data int) (gpio.Pair, error) { return p, nil }
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig("weight1", 3, 2)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"zero scale", func(c *Config) { c.Scale = 0 }},
		{"negative scale", func(c *Config) { c.Scale = -421 }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"shared pin", func(c *Config) { c.DataPin = c.ClockPin }},
		{"negative pin", func(c *Config) { c.ClockPin = -1 }},
		{"bad gain", func(c *Config) { c.Gain = 100 }},
		{"negative max wait", func(c *Config) { c.MaxWait = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewTaresAndArms(t *testing.T) {
	pair := gpio.NewFakePair(0x801234, 0x801A34)
	sched := NewFakeScheduler()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, logger, noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if ch.Offset() != 4660 {
		t.Errorf("offset: got %d, want 4660", ch.Offset())
	}
	if ch.State() != logic.StateReady {
		t.Errorf("state: got %s, want READY", ch.State())
	}
	if ch.Reading() != 0 {
		t.Errorf("reading before first tick: got %d, want 0", ch.Reading())
	}
	if sched.Pending() != 1 {
		t.Errorf("pending ticks: got %d, want 1", sched.Pending())
	}
	if sched.LastDelay() != time.Second {
		t.Errorf("delay: got %v, want 1s", sched.LastDelay())
	}
	if !strings.Contains(logs.String(), "auto-tare offset") || !strings.Contains(logs.String(), "offset=4660") {
		t.Errorf("expected tare log, got %q", logs.String())
	}
	if !strings.Contains(logs.String(), "channel=weight1") {
		t.Errorf("expected channel attribute, got %q", logs.String())
	}
}

func TestEndToEndFirstReading(t *testing.T) {
	pair := gpio.NewFakePair(0x801234, 0x801A34)
	sched := NewFakeScheduler()

	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := sched.Fire(); n != 1 {
		t.Fatalf("fired: got %d, want 1", n)
	}

	// (6708 - 4660) / 421
	if got := ch.Reading(); got != 4 {
		t.Errorf("reading: got %d, want 4", got)
	}
	if ch.State() != logic.StateReady {
		t.Errorf("state: got %s, want READY", ch.State())
	}
	if sched.Pending() != 1 {
		t.Errorf("expected the tick to reschedule itself, pending=%d", sched.Pending())
	}

	snap := ch.Snapshot()
	if snap.Raw != 6708 {
		t.Errorf("raw: got %d, want 6708", snap.Raw)
	}
	if snap.Sampled.IsZero() {
		t.Error("expected sample time to be set")
	}
	if snap.Name != "weight1" || snap.Scale != 421 || snap.ClockPin != 3 || snap.DataPin != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestCalibrationFailureIsOneError(t *testing.T) {
	pair := gpio.NewAbsentPair()

	_, err := New(testConfig("weight1", 3, 2), openPair(pair), NewFakeScheduler(), discard(), noDelay, hx711.WithMaxWait(5))
	if got := multierr.Errors(err); len(got) != 1 {
		t.Fatalf("expected one error, got %d: %v", len(got), got)
	}

	var calErr *CalibrationError
	if !errors.As(err, &calErr) {
		t.Fatalf("expected *CalibrationError, got %T", err)
	}
	if calErr.Channel != "weight1" {
		t.Errorf("Channel: got %q, want weight1", calErr.Channel)
	}
	if !errors.Is(calErr.Err, hx711.ErrTimeout) {
		t.Errorf("Err: got %v, want ErrTimeout", calErr.Err)
	}
}

func TestCalibrationFailureReportsReleaseError(t *testing.T) {
	pair := gpio.NewAbsentPair()
	errRelease := errors.New("line busy")
	pair.CloseError = errRelease

	_, err := New(testConfig("weight1", 3, 2), openPair(pair), NewFakeScheduler(), discard(), noDelay, hx711.WithMaxWait(5))
	if !errors.Is(err, ErrCalibration) {
		t.Errorf("expected ErrCalibration, got %v", err)
	}
	if !errors.Is(err, errRelease) {
		t.Errorf("expected release error joined, got %v", err)
	}
	if got := multierr.Errors(err); len(got) != 2 {
		t.Errorf("expected calibration and release errors, got %v", got)
	}
}

func TestCloseReportsReleaseError(t *testing.T) {
	pair := gpio.NewFakePair(0x800000)
	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), NewFakeScheduler(), discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	errRelease := errors.New("line busy")
	pair.CloseError = errRelease

	if err := ch.Close(); !errors.Is(err, errRelease) {
		t.Errorf("Close: got %v, want release error", err)
	}
	if ch.State() != logic.StateClosed {
		t.Errorf("state: got %s, want CLOSED", ch.State())
	}
}

func TestCalibrationFailureFullBound(t *testing.T) {
	pair := gpio.NewAbsentPair()
	sched := NewFakeScheduler()

	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, discard(), noDelay)
	if ch != nil {
		t.Fatal("expected no channel on tare failure")
	}
	if !errors.Is(err, ErrCalibration) {
		t.Errorf("expected ErrCalibration, got %v", err)
	}
	if !errors.Is(err, hx711.ErrTimeout) {
		t.Errorf("expected cause ErrTimeout, got %v", err)
	}

	pulses, reads, _ := pair.Counts()
	if pulses != 0 {
		t.Errorf("pulses: got %d, want 0", pulses)
	}
	if reads != hx711.DefaultMaxWait+1 {
		t.Errorf("reads: got %d, want %d", reads, hx711.DefaultMaxWait+1)
	}
	if !pair.IsClosed() {
		t.Error("expected lines released after tare failure")
	}
	if sched.Armed() != 0 {
		t.Errorf("expected no tick armed, got %d", sched.Armed())
	}
}

func TestInvalidConfigOpensNothing(t *testing.T) {
	opened := false
	open := func(clock, data int) (gpio.Pair, error) {
		opened = true
		return gpio.NewFakePair(0), nil
	}

	cfg := testConfig("weight1", 3, 2)
	cfg.Scale = 0
	_, err := New(cfg, open, NewFakeScheduler(), discard(), noDelay)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if opened {
		t.Error("lines opened for an invalid config")
	}
}

func TestOpenError(t *testing.T) {
	open := func(clock, data int) (gpio.Pair, error) {
		return nil, errors.New("line busy")
	}
	_, err := New(testConfig("weight1", 3, 2), open, NewFakeScheduler(), discard(), noDelay)
	if err == nil || !strings.Contains(err.Error(), "line busy") {
		t.Errorf("expected open error, got %v", err)
	}
}

func TestTimeoutTickFaults(t *testing.T) {
	pair := gpio.NewFakePair(0x801234, 0x801A34)
	sched := NewFakeScheduler()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	cfg := testConfig("weight1", 3, 2)
	cfg.MaxWait = 100
	ch, err := New(cfg, openPair(pair), sched, logger, noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sched.Fire()
	if ch.Reading() != 4 {
		t.Fatalf("reading: got %d, want 4", ch.Reading())
	}

	pair.SetSamples(gpio.ChipSample{Absent: true})
	pulsesBefore, _, _ := pair.Counts()
	armed := sched.Armed()

	sched.Fire()

	if ch.State() != logic.StateFaulted {
		t.Errorf("state: got %s, want FAULTED", ch.State())
	}
	if ch.Reading() != 4 {
		t.Errorf("reading changed on timeout: got %d, want 4", ch.Reading())
	}
	if sched.Pending() != 0 || sched.Armed() != armed {
		t.Errorf("expected no reschedule after timeout, pending=%d armed=%d", sched.Pending(), sched.Armed())
	}
	if pulses, _, _ := pair.Counts(); pulses != pulsesBefore {
		t.Errorf("timeout clocked the chip: %d pulses", pulses-pulsesBefore)
	}

	snap := ch.Snapshot()
	if snap.Faults != 1 {
		t.Errorf("faults: got %d, want 1", snap.Faults)
	}
	if !strings.Contains(snap.LastError, "timed out") {
		t.Errorf("last error: got %q", snap.LastError)
	}
	if !strings.Contains(logs.String(), "timeout on channel") {
		t.Errorf("expected timeout log, got %q", logs.String())
	}

	// Nothing runs until someone resumes the channel.
	if n := sched.Fire(); n != 0 {
		t.Errorf("fired %d ticks on a faulted channel", n)
	}
}

func TestLineErrorTickFaults(t *testing.T) {
	pair := gpio.NewFakePair(0x800000)
	sched := NewFakeScheduler()
	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pair.ReadError = errors.New("io")
	sched.Fire()

	if ch.State() != logic.StateFaulted {
		t.Errorf("state: got %s, want FAULTED", ch.State())
	}
	if sched.Pending() != 0 {
		t.Errorf("expected no reschedule, pending=%d", sched.Pending())
	}
}

func TestResume(t *testing.T) {
	pair := gpio.NewFakePair(0x801234)
	sched := NewFakeScheduler()
	cfg := testConfig("weight1", 3, 2)
	cfg.MaxWait = 10
	ch, err := New(cfg, openPair(pair), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := ch.Resume(); !errors.Is(err, ErrNotFaulted) {
		t.Errorf("resume while READY: expected ErrNotFaulted, got %v", err)
	}

	pair.SetSamples(gpio.ChipSample{Absent: true})
	sched.Fire()
	if ch.State() != logic.StateFaulted {
		t.Fatalf("state: got %s, want FAULTED", ch.State())
	}

	pair.SetSamples(gpio.ChipSample{Raw: 0x801234 + 421*3})
	if err := ch.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ch.State() != logic.StateReady {
		t.Errorf("state after resume: got %s, want READY", ch.State())
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected a tick armed after resume, pending=%d", sched.Pending())
	}

	sched.Fire()
	if ch.Reading() != 3 {
		t.Errorf("reading after resume: got %d, want 3", ch.Reading())
	}
	if ch.Snapshot().LastError != "" {
		t.Errorf("expected last error cleared, got %q", ch.Snapshot().LastError)
	}
}

func TestCloseIdempotent(t *testing.T) {
	pair := gpio.NewFakePair(0x801234)
	sched := NewFakeScheduler()
	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if !pair.IsClosed() {
		t.Error("expected lines released")
	}
	if ch.State() != logic.StateClosed {
		t.Errorf("state: got %s, want CLOSED", ch.State())
	}
	if sched.Pending() != 0 {
		t.Errorf("expected pending tick cancelled, pending=%d", sched.Pending())
	}
	if err := ch.Resume(); !errors.Is(err, ErrClosed) {
		t.Errorf("resume after close: expected ErrClosed, got %v", err)
	}
}

func TestTickAfterCloseDoesNothing(t *testing.T) {
	pair := gpio.NewFakePair(0x801234)
	sched := NewFakeScheduler()
	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, readsBefore, _ := pair.Counts()

	ch.Close()
	// A timer that already fired when Close ran still calls tick.
	ch.tick()

	if _, reads, _ := pair.Counts(); reads != readsBefore {
		t.Errorf("tick after close read the lines")
	}
	if ch.State() != logic.StateClosed {
		t.Errorf("state: got %s, want CLOSED", ch.State())
	}
}

func TestChannelsIndependent(t *testing.T) {
	pairA := gpio.NewFakePair(0x801234, 0x801A34)
	pairB := gpio.NewFakePair(0x800100, 0x800100+426*7)
	schedA := NewFakeScheduler()
	schedB := NewFakeScheduler()

	a, err := New(testConfig("weight1", 3, 2), openPair(pairA), schedA, discard(), noDelay)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	cfgB := testConfig("weight2", 27, 17)
	cfgB.Scale = 426
	b, err := New(cfgB, openPair(pairB), schedB, discard(), noDelay)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	bPulses, bReads, bWrites := pairB.Counts()
	schedA.Fire()
	if p, r, w := pairB.Counts(); p != bPulses || r != bReads || w != bWrites {
		t.Errorf("driving channel a touched b's lines")
	}

	aPulses, aReads, aWrites := pairA.Counts()
	schedB.Fire()
	if p, r, w := pairA.Counts(); p != aPulses || r != aReads || w != aWrites {
		t.Errorf("driving channel b touched a's lines")
	}

	if a.Reading() != 4 {
		t.Errorf("a reading: got %d, want 4", a.Reading())
	}
	if b.Reading() != 7 {
		t.Errorf("b reading: got %d, want 7", b.Reading())
	}
}

func TestNegativeReadingTruncates(t *testing.T) {
	// 100 counts below the tare at scale 421 is -0.24 g
	pair := gpio.NewFakePair(0x801234, 0x801234-100, 0x801234-500)
	sched := NewFakeScheduler()
	ch, err := New(testConfig("weight1", 3, 2), openPair(pair), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched.Fire()
	if ch.Reading() != 0 {
		t.Errorf("reading: got %d, want 0", ch.Reading())
	}
	sched.Fire()
	if ch.Reading() != -1 {
		t.Errorf("reading: got %d, want -1", ch.Reading())
	}
}

func TestGainOption(t *testing.T) {
	pair := gpio.NewFakePair(0x801234)
	cfg := testConfig("weight1", 3, 2)
	cfg.Gain = hx711.Gain64
	if _, err := New(cfg, openPair(pair), NewFakeScheduler(), discard(), noDelay); err != nil {
		t.Fatalf("New: %v", err)
	}
	if pulses, _, _ := pair.Counts(); pulses != 27 {
		t.Errorf("tare pulses at gain 64: got %d, want 27", pulses)
	}
}

func TestRealSchedulerRuns(t *testing.T) {
	done := make(chan struct{})
	RealScheduler{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}

	tm := RealScheduler{}.AfterFunc(time.Hour, func() {})
	if !tm.Stop() {
		t.Error("expected Stop to cancel a pending timer")
	}
}
