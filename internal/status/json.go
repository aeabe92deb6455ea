package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Channels      []ChannelJSON `json:"channels"`
	Store         StoreStatus   `json:"store"`
	Counts        CountsJSON    `json:"event_counts"`
	Config        ConfigJSON    `json:"config"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Grams     int32  `json:"grams"`
	Raw       int32  `json:"raw"`
	Offset    int32  `json:"offset"`
	Scale     int32  `json:"scale"`
	Clock     int    `json:"clock_pin"`
	Data      int    `json:"data_pin"`
	SampledAt string `json:"sampled_at,omitempty"`
	Faults    int    `json:"faults"`
	LastError string `json:"last_error,omitempty"`
}

// StoreStatus reports journal state.
type StoreStatus struct {
	Enabled bool   `json:"enabled"`
	OK      bool   `json:"ok"`
	Path    string `json:"path,omitempty"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Changed int `json:"changed"`
	Settled int `json:"settled"`
	Faulted int `json:"faulted"`
	Ready   int `json:"ready"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Backend     string `json:"gpio_backend"`
	ExportDir   string `json:"export_dir,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, 0, len(snap.Channels))
	for _, ch := range snap.Channels {
		state := string(ch.State)
		if state == "" {
			state = "UNKNOWN"
		}
		c := ChannelJSON{
			Name:      ch.Name,
			State:     state,
			Grams:     ch.Grams,
			Raw:       ch.Raw,
			Offset:    ch.Offset,
			Scale:     ch.Scale,
			Clock:     ch.ClockPin,
			Data:      ch.DataPin,
			Faults:    ch.Faults,
			LastError: ch.LastError,
		}
		if !ch.Sampled.IsZero() {
			c.SampledAt = ch.Sampled.UTC().Format(time.RFC3339Nano)
		}
		channels = append(channels, c)
	}

	return StatusInner{
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Channels:      channels,
		Store: StoreStatus{
			Enabled: snap.Config.StorePath != "",
			OK:      snap.StoreOK,
			Path:    snap.Config.StorePath,
		},
		Counts: CountsJSON{
			Changed: snap.Counts.Changed,
			Settled: snap.Counts.Settled,
			Faulted: snap.Counts.Faulted,
			Ready:   snap.Counts.Ready,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Backend:     snap.Config.Backend,
			ExportDir:   snap.Config.ExportDir,
		},
	}
}

// FormatJSON returns the JSON status document (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
