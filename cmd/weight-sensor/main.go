// Command weight-sensor samples HX711 load cells and exposes the latest
// weight of each channel as local files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/weight-sensor/internal/config"
	"github.com/sweeney/weight-sensor/internal/events"
	"github.com/sweeney/weight-sensor/internal/export"
	"github.com/sweeney/weight-sensor/internal/gpio"
	"github.com/sweeney/weight-sensor/internal/loadcell"
	"github.com/sweeney/weight-sensor/internal/logging"
	"github.com/sweeney/weight-sensor/internal/logic"
	"github.com/sweeney/weight-sensor/internal/status"
	"github.com/sweeney/weight-sensor/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/weight-sensor.yaml", "YAML config file (missing file uses defaults)")
	exportDir := flag.String("export-dir", "", `Export directory override ("off" disables)`)
	storePath := flag.String("store", "", `SQLite journal path override ("off" disables)`)
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	printState := flag.Bool("print-state", false, "Tare every channel, print its state and exit")
	printJournal := flag.Int("print-journal", 0, "Print the last N journaled weights and events and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *exportDir, *storePath, *logLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: invalid config: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := logging.New(level, cfg.LogFormat)
	slog.SetDefault(logger)

	if *printJournal > 0 {
		if err := showJournal(cfg.Store.Path, *printJournal, logger); err != nil {
			logger.Error("fatal", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *printState, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// applyOverrides applies non-empty flag values on top of the file config.
func applyOverrides(cfg *config.Config, exportDir, storePath, logLevel string) {
	switch exportDir {
	case "":
	case "off":
		cfg.Export.Dir = ""
	default:
		cfg.Export.Dir = exportDir
	}
	switch storePath {
	case "":
	case "off":
		cfg.Store.Path = ""
	default:
		cfg.Store.Path = storePath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func run(cfg *config.Config, printState bool, logger *slog.Logger) error {
	// Initialize GPIO and tare every channel
	open, err := gpio.NewOpener(cfg.GPIO.Backend, cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	registry, err := loadcell.Open(cfg.LoadCells(), open, loadcell.RealScheduler{}, logger)
	if registry == nil {
		return fmt.Errorf("open channels: %w", err)
	}
	defer registry.Close()
	if err != nil {
		logger.Error("channels failed to start", "err", err)
	}
	if registry.Len() == 0 {
		return fmt.Errorf("no channel started: %w", err)
	}

	// Print state mode
	if printState {
		printStates(os.Stdout, registry.Snapshot())
		return nil
	}

	publisher := events.Fanout{events.NewLogPublisher(logger)}
	var journal *store.Store
	if cfg.Store.Path != "" {
		journal, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			logger.Error("journal disabled", "path", cfg.Store.Path, "err", err)
			journal = nil
		} else {
			publisher = append(publisher, journal)
		}
	}
	defer publisher.Close()

	// Store health is only tracked while the journal is in the fan-out.
	storePath := ""
	if journal != nil {
		storePath = cfg.Store.Path
	}
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Backend:     cfg.GPIO.Backend,
		ExportDir:   cfg.Export.Dir,
		StorePath:   storePath,
	})
	tracker.SetStoreOK(true)

	var exp *export.Exporter
	if cfg.Export.Dir != "" {
		var opts []export.Option
		if journal != nil {
			opts = append(opts, export.WithHistory(journal, export.DefaultRecent))
		}
		exp, err = export.New(cfg.Export.Dir, tracker, logger, opts...)
		if err != nil {
			return err
		}
		defer func() {
			if err := exp.Remove(); err != nil {
				logger.Error("remove export files", "err", err)
			}
		}()
	}

	tracker.Update(registry.Snapshot(), false, logic.EventCounts{})
	snap := tracker.Snapshot()
	startupEvent := events.SystemEvent{
		Timestamp:  snap.Now,
		Event:      events.SystemStartup,
		RawPayload: status.FormatStatusEvent(snap, events.SystemStartup, ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Error("failed to publish startup event", "err", err)
	}

	logger.Info("started",
		"channels", strings.Join(registry.Names(), ","),
		"backend", cfg.GPIO.Backend,
		"poll", cfg.Poll,
		"heartbeat", cfg.Heartbeat,
		"export", cfg.Export.Dir,
		"store", storePath,
	)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return runLoop(registry, publisher, tracker, exp, cfg.DetectorConfig(), cfg.Heartbeat, time.Now, ticker.C, sigCh, logger)
}

// channelSource is the part of the registry the run loop needs.
type channelSource interface {
	Snapshot() []loadcell.Snapshot
	ResumeAll() ([]string, error)
}

func runLoop(channels channelSource, publisher events.Publisher, tracker *status.Tracker, exp *export.Exporter, stability logic.StabilityConfig, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) error {
	startTime := now()
	detector := logic.NewDetector(stability, startTime)

	publishSystem := func(event events.SystemEvent) {
		err := publisher.PublishSystem(event)
		if err != nil {
			logger.Error("failed to publish system event", "event", event.Event, "err", err)
		}
		tracker.SetStoreOK(err == nil)
	}

	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				// Supervisor action: FAULTED channels never restart on their own.
				resumed, err := channels.ResumeAll()
				if err != nil {
					logger.Error("resume failed", "err", err)
				}
				if len(resumed) == 0 {
					logger.Info("received SIGHUP, no faulted channels")
					continue
				}
				logger.Info("received SIGHUP, resumed channels", "channels", resumed)
				publishSystem(events.SystemEvent{
					Timestamp: now(),
					Event:     events.SystemResume,
					Reason:    strings.Join(resumed, ","),
				})
				continue
			}

			logger.Info("shutting down", "signal", s.String())
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			tracker.Update(channels.Snapshot(), detector.IsBaselined(), detector.EventCountsSnapshot())
			snap := tracker.Snapshot()
			publishSystem(events.SystemEvent{
				Timestamp:  now(),
				Event:      events.SystemShutdown,
				Reason:     signalName,
				RawPayload: status.FormatStatusEvent(snap, events.SystemShutdown, signalName),
			})
			return nil

		case <-tick:
			t := now()
			snaps := channels.Snapshot()

			for _, ch := range snaps {
				evs := detector.Process(logic.Input{
					Channel: ch.Name,
					Grams:   ch.Grams,
					State:   ch.State,
					Sampled: ch.Sampled,
					Time:    t,
				})
				for _, event := range evs {
					err := publisher.Publish(event)
					if err != nil {
						// Don't crash on publish failure
						logger.Error("publish error", "type", string(event.Type), "channel", event.Channel, "err", err)
					}
					tracker.SetStoreOK(err == nil)
				}
			}

			tracker.Update(snaps, detector.IsBaselined(), detector.EventCountsSnapshot())

			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				logger.Info("heartbeat",
					"uptime", hbData.Uptime,
					"changed", hbData.Counts.Changed,
					"settled", hbData.Counts.Settled,
					"faulted", hbData.Counts.Faulted,
					"ready", hbData.Counts.Ready,
				)
				snap := tracker.Snapshot()
				publishSystem(events.SystemEvent{
					Timestamp:  hbData.Timestamp,
					Event:      events.SystemHeartbeat,
					RawPayload: status.FormatStatusEvent(snap, events.SystemHeartbeat, ""),
				})
			}

			if exp != nil {
				if err := exp.Export(); err != nil {
					logger.Error("export error", "err", err)
				}
			}
		}
	}
}

func printStates(w io.Writer, snaps []loadcell.Snapshot) {
	for _, s := range snaps {
		fmt.Fprintf(w, "%s: %s offset=%d scale=%d clock=%d data=%d\n",
			s.Name, s.State, s.Offset, s.Scale, s.ClockPin, s.DataPin)
	}
}

// journalReader is the read side of the journal.
type journalReader interface {
	Recent(ctx context.Context, channel string, limit int) ([]store.WeightLog, error)
	Events(ctx context.Context, limit int) ([]store.EventRow, error)
}

func showJournal(path string, n int, logger *slog.Logger) error {
	if path == "" {
		return errors.New("no journal configured (store.path or -store)")
	}
	journal, err := store.Open(path, logger)
	if err != nil {
		return err
	}
	defer journal.Close()
	return printJournal(context.Background(), os.Stdout, journal, n)
}

func printJournal(ctx context.Context, w io.Writer, j journalReader, n int) error {
	weights, err := j.Recent(ctx, "", n)
	if err != nil {
		return err
	}
	evs, err := j.Events(ctx, n)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "weights:")
	for _, r := range weights {
		fmt.Fprintf(w, "  %s %s %d\n", r.RecordedAt.UTC().Format(time.RFC3339), r.Channel, r.Grams)
	}
	fmt.Fprintln(w, "events:")
	for _, e := range evs {
		channel := e.Channel
		if channel == "" {
			channel = "-"
		}
		fmt.Fprintf(w, "  %s %s %s\n", e.RecordedAt.UTC().Format(time.RFC3339), e.Kind, channel)
	}
	return nil
}
