package logic

import (
	"sort"
	"time"
)

// ChannelTrack tracks stability state for a single channel.
type ChannelTrack struct {
	// Last observed channel state
	State State
	// Whether the channel has been observed at least once
	Baselined bool

	window      *window
	last        int32
	hasLast     bool
	lastSampled time.Time
	settled     int32
	hasSettled  bool
}

// Detector turns periodic channel observations into weight and state events.
type Detector struct {
	cfg           StabilityConfig
	channels      map[string]*ChannelTrack
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a detector with the given stability settings.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(cfg StabilityConfig, startTime time.Time) *Detector {
	if cfg.Window < 1 {
		cfg.Window = DefaultStability.Window
	}
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	return &Detector{
		cfg:           cfg,
		channels:      make(map[string]*ChannelTrack),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process takes the latest observation of a channel and returns any events
// that should be emitted. The first observation of a channel only establishes
// its baseline.
func (d *Detector) Process(in Input) []Event {
	ch := d.track(in.Channel)

	if !ch.Baselined {
		ch.Baselined = true
		ch.State = in.State
		if in.State == StateReady {
			d.observe(ch, in)
		}
		return nil
	}

	var events []Event

	if in.State != ch.State {
		if ev := stateEvent(ch.State, in.State); ev != "" {
			events = append(events, Event{
				Timestamp: in.Time,
				Type:      ev,
				Channel:   in.Channel,
				Grams:     in.Grams,
				State:     in.State,
			})
		}
		if in.State == StateReady {
			// Samples from before the fault say nothing about settling now.
			ch.window.reset()
		}
		ch.State = in.State
	}

	if in.State == StateReady {
		events = append(events, d.observe(ch, in)...)
	}

	for _, e := range events {
		switch e.Type {
		case EventChanged:
			d.eventCounts.Changed++
		case EventSettled:
			d.eventCounts.Settled++
		case EventFaulted:
			d.eventCounts.Faulted++
		case EventReady:
			d.eventCounts.Ready++
		}
	}

	return events
}

// observe feeds a new sample into the channel window.
// Returns change and settle events; repeated or empty samples are ignored.
func (d *Detector) observe(ch *ChannelTrack, in Input) []Event {
	if in.Sampled.IsZero() || !in.Sampled.After(ch.lastSampled) {
		return nil
	}
	ch.lastSampled = in.Sampled

	var events []Event

	if ch.hasLast {
		if delta := in.Grams - ch.last; abs(delta) > d.cfg.Threshold {
			events = append(events, Event{
				Timestamp: in.Time,
				Type:      EventChanged,
				Channel:   in.Channel,
				Grams:     in.Grams,
				Delta:     delta,
				State:     in.State,
			})
		}
	}
	ch.last = in.Grams
	ch.hasLast = true

	ch.window.push(in.Grams)
	if !ch.window.full() || ch.window.spread() > d.cfg.Threshold {
		return events
	}

	delta := in.Grams - ch.settled
	if ch.hasSettled && abs(delta) <= d.cfg.Threshold {
		return events
	}
	if !ch.hasSettled {
		delta = 0
	}
	ch.settled = in.Grams
	ch.hasSettled = true
	return append(events, Event{
		Timestamp: in.Time,
		Type:      EventSettled,
		Channel:   in.Channel,
		Grams:     in.Grams,
		Delta:     delta,
		State:     in.State,
	})
}

func (d *Detector) track(name string) *ChannelTrack {
	ch, ok := d.channels[name]
	if !ok {
		ch = &ChannelTrack{window: newWindow(d.cfg.Window)}
		d.channels[name] = ch
	}
	return ch
}

func stateEvent(from, to State) EventType {
	switch {
	case to == StateFaulted:
		return EventFaulted
	case to == StateReady && from == StateFaulted:
		return EventReady
	}
	return ""
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// IsBaselined returns whether at least one channel has been observed.
func (d *Detector) IsBaselined() bool {
	for _, ch := range d.channels {
		if ch.Baselined {
			return true
		}
	}
	return false
}

// Settled returns the last settled weight of a channel.
func (d *Detector) Settled(channel string) (int32, bool) {
	ch, ok := d.channels[channel]
	if !ok || !ch.hasSettled {
		return 0, false
	}
	return ch.settled, true
}

// Channels returns the names of all observed channels, sorted.
func (d *Detector) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventCountsSnapshot returns a copy of the event counters.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.IsBaselined() {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
