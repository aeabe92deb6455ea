package loadcell

import (
	"errors"
	"testing"

	"go.uber.org/multierr"

	"github.com/sweeney/weight-sensor/internal/gpio"
	"github.com/sweeney/weight-sensor/internal/logic"
)

func twoChannels() []Config {
	w2 := testConfig("weight2", 27, 17)
	w2.Scale = 426
	return []Config{testConfig("weight1", 3, 2), w2}
}

func TestOpenRegistry(t *testing.T) {
	pairs := map[int]*gpio.FakePair{
		3:  gpio.NewFakePair(0x801234, 0x801A34),
		27: gpio.NewFakePair(0x800000, 0x800000+426*10),
	}
	sched := NewFakeScheduler()

	r, err := Open(twoChannels(), gpio.FakeOpener(pairs), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	names := r.Names()
	if len(names) != 2 || names[0] != "weight1" || names[1] != "weight2" {
		t.Errorf("Names: got %v", names)
	}
	if sched.Pending() != 2 {
		t.Errorf("pending: got %d, want 2", sched.Pending())
	}

	sched.Fire()

	if g, err := r.Reading("weight1"); err != nil || g != 4 {
		t.Errorf("weight1: got (%d, %v), want (4, nil)", g, err)
	}
	if g, err := r.Reading("weight2"); err != nil || g != 10 {
		t.Errorf("weight2: got (%d, %v), want (10, nil)", g, err)
	}
	if st, err := r.State("weight2"); err != nil || st != logic.StateReady {
		t.Errorf("weight2 state: got (%s, %v)", st, err)
	}

	snaps := r.Snapshot()
	if len(snaps) != 2 || snaps[0].Offset != 4660 || snaps[1].Offset != 0 {
		t.Errorf("unexpected snapshots: %+v", snaps)
	}
}

func TestOpenRejectsBadConfigsBeforeHardware(t *testing.T) {
	tests := []struct {
		name string
		cfgs []Config
	}{
		{"duplicate name", []Config{testConfig("weight1", 3, 2), testConfig("weight1", 27, 17)}},
		{"shared clock", []Config{testConfig("weight1", 3, 2), testConfig("weight2", 3, 17)}},
		{"clock is other data", []Config{testConfig("weight1", 3, 2), testConfig("weight2", 2, 17)}},
		{"zero scale", func() []Config {
			cfgs := twoChannels()
			cfgs[1].Scale = 0
			return cfgs
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened := 0
			open := func(clock, data int) (gpio.Pair, error) {
				opened++
				return gpio.NewFakePair(0), nil
			}
			r, err := Open(tt.cfgs, open, NewFakeScheduler(), discard(), noDelay)
			if r != nil {
				t.Error("expected no registry")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if opened != 0 {
				t.Errorf("opened %d line pairs", opened)
			}
		})
	}
}

func TestOpenPartialFailure(t *testing.T) {
	absent := gpio.NewAbsentPair()
	pairs := map[int]*gpio.FakePair{
		3:  gpio.NewFakePair(0x801234),
		27: absent,
	}
	cfgs := twoChannels()
	cfgs[1].MaxWait = 10

	r, err := Open(cfgs, gpio.FakeOpener(pairs), NewFakeScheduler(), discard(), noDelay)
	if r == nil {
		t.Fatal("expected a registry of the healthy channels")
	}
	defer r.Close()

	if !errors.Is(err, ErrCalibration) {
		t.Errorf("expected ErrCalibration, got %v", err)
	}
	if len(multierr.Errors(err)) != 1 {
		t.Errorf("expected one error, got %v", multierr.Errors(err))
	}
	if r.Len() != 1 {
		t.Errorf("Len: got %d, want 1", r.Len())
	}
	if _, err := r.Get("weight2"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("failed channel must not be queryable, got %v", err)
	}
	if !absent.IsClosed() {
		t.Error("failed channel's lines not released")
	}
}

func TestOpenCountsOneErrorPerFailedChannel(t *testing.T) {
	pairs := map[int]*gpio.FakePair{
		3:  gpio.NewAbsentPair(),
		27: gpio.NewAbsentPair(),
	}
	cfgs := twoChannels()
	cfgs[0].MaxWait = 10
	cfgs[1].MaxWait = 10

	r, err := Open(cfgs, gpio.FakeOpener(pairs), NewFakeScheduler(), discard(), noDelay)
	if r == nil {
		t.Fatal("expected an empty registry")
	}
	defer r.Close()

	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("expected two errors, got %d: %v", len(errs), errs)
	}
	for i, want := range []string{"weight1", "weight2"} {
		var calErr *CalibrationError
		if !errors.As(errs[i], &calErr) || calErr.Channel != want {
			t.Errorf("error %d: got %v, want calibration failure of %s", i, errs[i], want)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len: got %d, want 0", r.Len())
	}
}

func TestRegistryUnknownChannel(t *testing.T) {
	pairs := map[int]*gpio.FakePair{3: gpio.NewFakePair(0x800000)}
	r, err := Open(twoChannels()[:1], gpio.FakeOpener(pairs), NewFakeScheduler(), discard(), noDelay)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Reading("nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Reading: expected ErrUnknownChannel, got %v", err)
	}
	if _, err := r.State("nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("State: expected ErrUnknownChannel, got %v", err)
	}
	if err := r.Resume("nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Resume: expected ErrUnknownChannel, got %v", err)
	}
}

func TestResumeAll(t *testing.T) {
	pairs := map[int]*gpio.FakePair{
		3:  gpio.NewFakePair(0x801234),
		27: gpio.NewFakePair(0x800000),
	}
	cfgs := twoChannels()
	cfgs[0].MaxWait = 10
	sched := NewFakeScheduler()
	r, err := Open(cfgs, gpio.FakeOpener(pairs), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	pairs[3].SetSamples(gpio.ChipSample{Absent: true})
	sched.Fire()

	if st, _ := r.State("weight1"); st != logic.StateFaulted {
		t.Fatalf("weight1: got %s, want FAULTED", st)
	}
	if st, _ := r.State("weight2"); st != logic.StateReady {
		t.Fatalf("weight2: got %s, want READY", st)
	}

	pairs[3].SetSamples(gpio.ChipSample{Raw: 0x801234})
	resumed, err := r.ResumeAll()
	if err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if len(resumed) != 1 || resumed[0] != "weight1" {
		t.Errorf("resumed: got %v, want [weight1]", resumed)
	}
	if st, _ := r.State("weight1"); st != logic.StateReady {
		t.Errorf("weight1 after resume: got %s", st)
	}
}

func TestRegistryClose(t *testing.T) {
	pairs := map[int]*gpio.FakePair{
		3:  gpio.NewFakePair(0x801234),
		27: gpio.NewFakePair(0x800000),
	}
	sched := NewFakeScheduler()
	r, err := Open(twoChannels(), gpio.FakeOpener(pairs), sched, discard(), noDelay)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	for pin, p := range pairs {
		if !p.IsClosed() {
			t.Errorf("pair %d not closed", pin)
		}
	}
	if sched.Pending() != 0 {
		t.Errorf("pending ticks after close: %d", sched.Pending())
	}
	if _, err := r.Get("weight1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close: expected ErrClosed, got %v", err)
	}
	for _, s := range r.Snapshot() {
		if s.State != logic.StateClosed {
			t.Errorf("%s: got %s, want CLOSED", s.Name, s.State)
		}
	}
}
