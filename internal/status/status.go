// Package status provides a thread-safe status tracker for the weight-sensor daemon.
// It is read by the file exporter and by system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/weight-sensor/internal/loadcell"
	"github.com/sweeney/weight-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Backend     string
	ExportDir   string
	StorePath   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels  []loadcell.Snapshot
	Baselined bool
	Counts    logic.EventCounts
	StartTime time.Time
	Now       time.Time
	StoreOK   bool
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Faulted returns the names of channels currently FAULTED.
func (s Snapshot) Faulted() []string {
	var names []string
	for _, ch := range s.Channels {
		if ch.State == logic.StateFaulted {
			names = append(names, ch.Name)
		}
	}
	return names
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets channel snapshots, baseline status, and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(channels []loadcell.Snapshot, baselined bool, counts logic.EventCounts) {
	cp := append([]loadcell.Snapshot(nil), channels...)
	t.mu.Lock()
	t.snap.Channels = cp
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetStoreOK records whether the last journal write succeeded. It is ignored
// when no journal is configured.
func (t *Tracker) SetStoreOK(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Config.StorePath == "" {
		return
	}
	t.snap.StoreOK = ok
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
