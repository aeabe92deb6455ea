package events

import (
	"context"
	"log/slog"

	"github.com/sweeney/weight-sensor/internal/logic"
)

// LogPublisher writes events as structured log records.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{log: logger}
}

// Publish logs the event. Faults are logged at warn level.
func (p *LogPublisher) Publish(event logic.Event) error {
	level := slog.LevelInfo
	if event.Type == logic.EventFaulted {
		level = slog.LevelWarn
	}
	p.log.Log(context.Background(), level, "event",
		"type", string(event.Type),
		"channel", event.Channel,
		"grams", event.Grams,
		"delta", event.Delta,
		"state", string(event.State),
	)
	return nil
}

// PublishSystem logs the system event without its payload.
func (p *LogPublisher) PublishSystem(event SystemEvent) error {
	args := []any{"event", event.Event}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}
	p.log.Info("system event", args...)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
