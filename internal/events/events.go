// Package events delivers weight and system events to local sinks with
// abstraction for testing.
package events

import (
	"encoding/json"
	"time"

	"go.uber.org/multierr"

	"github.com/sweeney/weight-sensor/internal/logic"
)

// System event names.
const (
	SystemStartup   = "STARTUP"
	SystemShutdown  = "SHUTDOWN"
	SystemHeartbeat = "HEARTBEAT"
	SystemResume    = "RESUME"
)

// Publisher delivers events to a sink.
type Publisher interface {
	// Publish delivers a weight or channel event.
	// Returns error if delivery fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem delivers a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close releases the sink.
	Close() error
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only), channel names (resume)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
}

// Payload represents the JSON payload of a weight event.
type Payload struct {
	Weight WeightPayload `json:"weight"`
}

// WeightPayload contains the weight event details.
type WeightPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	Grams     int32  `json:"grams"`
	Delta     int32  `json:"delta"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a weight event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Weight: WeightPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Channel:   event.Channel,
			Grams:     event.Grams,
			Delta:     event.Delta,
			State:     string(event.State),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the payload for system events that don't carry a
// full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Fanout delivers every event to each publisher in order. A failing
// publisher does not stop delivery to the rest; the errors are joined.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(event logic.Event) error {
	var errs error
	for _, p := range f {
		errs = multierr.Append(errs, p.Publish(event))
	}
	return errs
}

// PublishSystem implements Publisher.
func (f Fanout) PublishSystem(event SystemEvent) error {
	var errs error
	for _, p := range f {
		errs = multierr.Append(errs, p.PublishSystem(event))
	}
	return errs
}

// Close implements Publisher.
func (f Fanout) Close() error {
	var errs error
	for _, p := range f {
		errs = multierr.Append(errs, p.Close())
	}
	return errs
}
