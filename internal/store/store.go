// Package store journals settled weights and events to SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/weight-sensor/internal/events"
	"github.com/sweeney/weight-sensor/internal/logic"
)

const schema = `
CREATE TABLE IF NOT EXISTS weight_logs (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  channel     TEXT    NOT NULL,
  grams       INTEGER NOT NULL,
  recorded_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weight_logs_channel ON weight_logs(channel, id);

CREATE TABLE IF NOT EXISTS events (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  recorded_at TEXT    NOT NULL,
  kind        TEXT    NOT NULL,
  channel     TEXT,
  payload     TEXT    NOT NULL
);
`

// timeFormat keeps recorded_at sortable as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// WeightLog is one settled weight row.
type WeightLog struct {
	ID         int64
	Channel    string
	Grams      int32
	RecordedAt time.Time
}

// EventRow is one journaled event.
type EventRow struct {
	ID         int64
	RecordedAt time.Time
	Kind       string
	Channel    string
	Payload    string
}

// Store is an events.Publisher backed by SQLite.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var _ events.Publisher = (*Store)(nil)

// Open opens (creating if needed) the journal at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}

	logger.Info("journal opened", "path", path)
	return &Store{db: db, log: logger}, nil
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", errors.New("store: empty path")
	}
	if path == ":memory:" {
		return path, nil
	}

	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// Publish journals the event; WEIGHT_SETTLED events also get a weight row.
func (s *Store) Publish(event logic.Event) error {
	payload, err := events.FormatPayload(event)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	at := event.Timestamp.UTC().Format(timeFormat)
	if _, err := tx.Exec(
		`INSERT INTO events (recorded_at, kind, channel, payload) VALUES (?, ?, ?, ?)`,
		at, string(event.Type), event.Channel, string(payload),
	); err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}

	if event.Type == logic.EventSettled {
		if _, err := tx.Exec(
			`INSERT INTO weight_logs (channel, grams, recorded_at) VALUES (?, ?, ?)`,
			event.Channel, event.Grams, at,
		); err != nil {
			return fmt.Errorf("store: insert weight: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// PublishSystem journals a system event with no channel.
func (s *Store) PublishSystem(event events.SystemEvent) error {
	payload, err := events.FormatSystemPayload(event)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (recorded_at, kind, channel, payload) VALUES (?, ?, NULL, ?)`,
		event.Timestamp.UTC().Format(timeFormat), event.Event, string(payload),
	)
	if err != nil {
		return fmt.Errorf("store: insert system event: %w", err)
	}
	return nil
}

// Recent returns up to limit weight rows, newest first. An empty channel
// matches every channel.
func (s *Store) Recent(ctx context.Context, channel string, limit int) ([]WeightLog, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := `SELECT id, channel, grams, recorded_at FROM weight_logs`
	args := []any{}
	if channel != "" {
		q += ` WHERE channel = ?`
		args = append(args, channel)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query weights: %w", err)
	}
	defer rows.Close()

	var out []WeightLog
	for rows.Next() {
		var w WeightLog
		var at string
		if err := rows.Scan(&w.ID, &w.Channel, &w.Grams, &at); err != nil {
			return nil, fmt.Errorf("store: scan weight: %w", err)
		}
		if w.RecordedAt, err = time.Parse(timeFormat, at); err != nil {
			return nil, fmt.Errorf("store: parse recorded_at %q: %w", at, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Events returns up to limit journaled events, newest first.
func (s *Store) Events(ctx context.Context, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at, kind, channel, payload FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var at string
		var channel sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.Kind, &channel, &e.Payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if e.RecordedAt, err = time.Parse(timeFormat, at); err != nil {
			return nil, fmt.Errorf("store: parse recorded_at %q: %w", at, err)
		}
		e.Channel = channel.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
