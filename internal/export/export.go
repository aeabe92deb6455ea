// Package export publishes the latest readings as plain files, one per
// channel, for local readers such as shell scripts and dashboards.
//
// Layout under the export directory:
//
//	<channel>        grams as "%d\n"
//	<channel>.state  channel state name
//	status.json      full status document
//	summary.txt      human-readable summary
//	recent.json      latest journaled weights (only with a History)
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/multierr"

	"github.com/sweeney/weight-sensor/internal/status"
	"github.com/sweeney/weight-sensor/internal/store"
)

// File names written next to the channel files.
const (
	StatusFile  = "status.json"
	SummaryFile = "summary.txt"
	RecentFile  = "recent.json"
)

// DefaultRecent is how many journaled weights recent.json lists.
const DefaultRecent = 10

const historyTimeout = 2 * time.Second

// History supplies journaled weights, newest first.
type History interface {
	Recent(ctx context.Context, channel string, limit int) ([]store.WeightLog, error)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithHistory adds recent.json and a recent section in summary.txt listing
// the latest limit weights from h.
func WithHistory(h History, limit int) Option {
	return func(e *Exporter) {
		e.history = h
		e.recent = limit
	}
}

// Exporter writes tracker snapshots into a directory.
type Exporter struct {
	dir     string
	tracker *status.Tracker
	log     *slog.Logger
	written map[string]bool
	history History
	recent  int
}

// RecentJSON is the recent.json document.
type RecentJSON struct {
	Recent []WeightJSON `json:"recent"`
}

// WeightJSON is one journaled weight.
type WeightJSON struct {
	Channel    string `json:"channel"`
	Grams      int32  `json:"grams"`
	RecordedAt string `json:"recorded_at"`
}

// New creates the export directory if needed.
func New(dir string, tracker *status.Tracker, logger *slog.Logger, opts ...Option) (*Exporter, error) {
	if dir == "" {
		return nil, errors.New("export: empty directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: mkdir %s: %w", dir, err)
	}
	e := &Exporter{
		dir:     dir,
		tracker: tracker,
		log:     logger,
		written: make(map[string]bool),
		recent:  DefaultRecent,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dir returns the export directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Export writes the current snapshot. Every file is replaced atomically so a
// reader sees either the previous or the new value.
func (e *Exporter) Export() error {
	snap := e.tracker.Snapshot()

	var errs error
	for _, ch := range snap.Channels {
		if !validName(ch.Name) {
			errs = multierr.Append(errs, fmt.Errorf("export: invalid channel name %q", ch.Name))
			continue
		}
		errs = multierr.Append(errs, e.write(ch.Name, []byte(strconv.FormatInt(int64(ch.Grams), 10)+"\n")))
		errs = multierr.Append(errs, e.write(ch.Name+".state", []byte(string(ch.State)+"\n")))
	}
	errs = multierr.Append(errs, e.write(StatusFile, append(status.FormatJSON(snap), '\n')))

	var recent []store.WeightLog
	if e.history != nil {
		rows, err := e.recentRows()
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			recent = rows
			errs = multierr.Append(errs, e.write(RecentFile, formatRecent(rows)))
		}
	}

	summary, err := renderSummary(snap, recent)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("export: %s: %w", SummaryFile, err))
	}
	errs = multierr.Append(errs, e.write(SummaryFile, summary))
	return errs
}

func (e *Exporter) recentRows() ([]store.WeightLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	rows, err := e.history.Recent(ctx, "", e.recent)
	if err != nil {
		return nil, fmt.Errorf("export: %s: %w", RecentFile, err)
	}
	return rows, nil
}

func formatRecent(rows []store.WeightLog) []byte {
	doc := RecentJSON{Recent: make([]WeightJSON, 0, len(rows))}
	for _, r := range rows {
		doc.Recent = append(doc.Recent, WeightJSON{
			Channel:    r.Channel,
			Grams:      r.Grams,
			RecordedAt: r.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	data, _ := json.MarshalIndent(doc, "", "  ")
	return append(data, '\n')
}

// Remove deletes every file this exporter wrote.
func (e *Exporter) Remove() error {
	names := make([]string, 0, len(e.written))
	for name := range e.written {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		err := os.Remove(filepath.Join(e.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, err)
			continue
		}
		delete(e.written, name)
	}
	if errs == nil {
		e.log.Debug("export files removed", "dir", e.dir)
	}
	return errs
}

func (e *Exporter) write(name string, data []byte) error {
	if err := renameio.WriteFile(filepath.Join(e.dir, name), data, 0o644, renameio.WithTempDir(e.dir)); err != nil {
		return fmt.Errorf("export: %s: %w", name, err)
	}
	e.written[name] = true
	return nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		filepath.Base(name) == name &&
		name != StatusFile && name != SummaryFile && name != RecentFile
}
