// Package logic contains pure business logic for weight conversion and
// stability tracking.
// This package has NO external dependencies (no GPIO, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the lifecycle state of a load-cell channel.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateFaulted      State = "FAULTED"
	StateClosed       State = "CLOSED"
)

// EventType represents a weight or channel event.
type EventType string

const (
	EventChanged EventType = "WEIGHT_CHANGED"
	EventSettled EventType = "WEIGHT_SETTLED"
	EventFaulted EventType = "CHANNEL_FAULTED"
	EventReady   EventType = "CHANNEL_READY"
)

// Event represents a detected change to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Channel   string
	Grams     int32
	// Delta is the change from the previous sample (WEIGHT_CHANGED) or from
	// the previous settled value (WEIGHT_SETTLED).
	Delta int32
	State State
}

// Input is the latest observation of one channel.
type Input struct {
	Channel string
	Grams   int32
	State   State
	// Sampled is when Grams was measured; zero means no sample yet.
	// An Input whose Sampled is not after the previous one is not a new sample.
	Sampled time.Time
	Time    time.Time
}

// StabilityConfig controls settle and change detection.
type StabilityConfig struct {
	// Window is how many consecutive samples must agree to settle.
	Window int
	// Threshold is the largest spread, in grams, of a settled window and the
	// smallest step reported as a change.
	Threshold int32
}

// DefaultStability matches a kitchen-scale style logger: five samples within
// 10 g settle, and any step above 10 g is a change.
var DefaultStability = StabilityConfig{Window: 5, Threshold: 10}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Changed int
	Settled int
	Faulted int
	Ready   int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
