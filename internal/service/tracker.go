// Package service wires log discovery, live tailing, extraction,
// conversion and the event store into one consumer-facing tracker.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/usagekit/copilot-usage-tracker/internal/analytics"
	"github.com/usagekit/copilot-usage-tracker/internal/config"
	"github.com/usagekit/copilot-usage-tracker/internal/copilotlog"
	"github.com/usagekit/copilot-usage-tracker/internal/domain"
	"github.com/usagekit/copilot-usage-tracker/internal/mapping"
	"github.com/usagekit/copilot-usage-tracker/internal/observability"
)

const tracerName = "github.com/usagekit/copilot-usage-tracker/internal/service"

// EventHandler receives the usage events of one completed scan. The
// slice is a snapshot owned by the handler.
type EventHandler func(events []domain.UsageEvent)

// Tracker orchestrates the usage pipeline: a one-shot historical scan
// across all known log roots, then live tailing of the current log
// file. Extracted entries are converted to events, stored and fanned
// out to subscribers.
type Tracker struct {
	cfg     *config.Config
	store   analytics.EventStore
	models  *mapping.ModelMap
	locator *copilotlog.Locator
	metrics *observability.Metrics
	logger  zerolog.Logger

	// defaultRoots supplies the platform log roots searched in addition
	// to the configured ones. Swapped out in tests.
	defaultRoots func() []string

	// runID is the host-session component of every SessionID minted by
	// this tracker instance.
	runID string

	mu       sync.Mutex
	handlers []EventHandler
	scanner  *copilotlog.Scanner
	started  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTracker creates a tracker over the given store. The metrics bundle
// is optional; nil keeps the collectors off any registry.
func NewTracker(cfg *config.Config, store analytics.EventStore, metrics *observability.Metrics) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if metrics == nil {
		metrics = observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	t := &Tracker{
		cfg:          cfg,
		store:        store,
		locator:      copilotlog.NewLocator(),
		metrics:      metrics,
		logger:       observability.Component("tracker"),
		runID:        uuid.NewString(),
		defaultRoots: copilotlog.DefaultLogRoots,
		stopCh:       make(chan struct{}),
	}

	if cfg.ModelMapPath != "" {
		mm, err := mapping.LoadModelMap(cfg.ModelMapPath)
		if err != nil {
			// Display names are presentation only; keep going without them.
			t.logger.Warn().Err(err).Str("path", cfg.ModelMapPath).Msg("Model map not loaded")
		} else {
			t.models = mm
		}
	}

	return t, nil
}

// Subscribe registers a handler for event batches from both the
// historical scan and live tailing. Handlers are called sequentially
// from the pipeline's goroutines.
func (t *Tracker) Subscribe(h EventHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Start launches the pipeline: discovery and the historical scan run in
// the background, then the live scanner takes over. Start returns
// immediately.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("tracker already started")
	}
	t.started = true
	t.mu.Unlock()

	t.logger.Info().
		Str("run_id", t.runID).
		Bool("history", t.cfg.HistoryEnabled).
		Msg("Tracker starting")

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		files := t.discoverFiles()

		if t.cfg.HistoryEnabled {
			t.scanHistory(ctx, files)
		}

		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		t.startLiveScanner(files)
	}()

	return nil
}

// Stop shuts the pipeline down and waits for in-flight work. Safe to
// call more than once; events delivered before Stop remain in the store.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})

	t.mu.Lock()
	scanner := t.scanner
	started := t.started
	t.mu.Unlock()

	if scanner != nil {
		scanner.Stop()
	}
	if started {
		t.wg.Wait()
	}
	t.logger.Info().Msg("Tracker stopped")
}

// Events returns stored events with from <= timestamp < to.
func (t *Tracker) Events(from, to time.Time) ([]domain.UsageEvent, error) {
	return t.store.Query(from, to)
}

// Summary aggregates all stored events relative to the current time.
func (t *Tracker) Summary() (analytics.Summary, error) {
	events, err := t.store.All()
	if err != nil {
		return analytics.Summary{}, fmt.Errorf("failed to load events: %w", err)
	}

	if t.models != nil {
		return analytics.Summarize(events, time.Now(), analytics.WithModelNames(t.models)), nil
	}
	return analytics.Summarize(events, time.Now()), nil
}

// discoverFiles collects every known log file under the configured and
// platform-default roots.
func (t *Tracker) discoverFiles() []string {
	roots := append([]string{}, t.cfg.LogDirs...)
	roots = append(roots, t.defaultRoots()...)

	files := t.locator.FindAllLogFiles(roots)
	t.logger.Info().
		Int("roots", len(roots)).
		Int("files", len(files)).
		Msg("Log discovery complete")
	return files
}

// scanHistory reads every discovered file in full through a bounded
// worker pool. Results flow through the same convert-store-notify path
// as live scans; the store's ID dedup makes re-runs a no-op.
func (t *Tracker) scanHistory(ctx context.Context, files []string) {
	if len(files) == 0 {
		t.logger.Info().Msg("No historical files found")
		return
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "tracker.history",
		trace.WithAttributes(attribute.Int("files", len(files))))
	defer span.End()

	startTime := time.Now()
	t.logger.Info().
		Int("files", len(files)).
		Int("workers", t.cfg.HistoryWorkers).
		Msg("Processing historical log files")

	fileChan := make(chan string, len(files))

	var wg sync.WaitGroup
	var mu sync.Mutex
	totalEvents := 0
	failures := 0

	for w := 0; w < t.cfg.HistoryWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for path := range fileChan {
				select {
				case <-ctx.Done():
					return
				case <-t.stopCh:
					return
				default:
				}

				n, err := t.processHistoricalFile(path)
				mu.Lock()
				if err != nil {
					failures++
				}
				totalEvents += n
				mu.Unlock()

				if err != nil {
					t.logger.Warn().
						Err(err).
						Str("file", path).
						Int("worker", workerID).
						Msg("Failed to process file")
				}
			}
		}(w)
	}

	for _, file := range files {
		fileChan <- file
	}
	close(fileChan)

	wg.Wait()

	span.SetAttributes(attribute.Int("events", totalEvents))
	t.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("files", len(files)).
		Int("events", totalEvents).
		Int("failures", failures).
		Msg("Historical scan complete")
}

// processHistoricalFile extracts, converts and stores one whole file.
// Returns the number of events found (pre-dedup).
func (t *Tracker) processHistoricalFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	entries, stats := copilotlog.ExtractWithStats(string(data))
	t.metrics.Scan.BytesRead.Add(float64(len(data)))
	t.metrics.Scan.EntriesExtracted.Add(float64(len(entries)))
	t.metrics.Scan.ParseErrors.Add(float64(stats.ErrorCount))

	if len(entries) == 0 {
		return 0, nil
	}

	events := analytics.EventsFromEntries(entries, path, t.sessionFor(path))
	if _, err := t.store.Add(events); err != nil {
		return len(events), fmt.Errorf("failed to store events: %w", err)
	}

	t.notify(events)
	return len(events), nil
}

// startLiveScanner builds and starts the change-driven scanner for the
// current log file.
func (t *Tracker) startLiveScanner(knownFiles []string) {
	ownDir := t.cfg.OwnLogDir
	if ownDir == "" {
		ownDir = deriveOwnLogDir(knownFiles)
	}
	if ownDir == "" {
		t.logger.Warn().Msg("No live log location known; tailing idles until one appears")
	}

	scanner := copilotlog.NewScanner(copilotlog.ScannerConfig{
		OwnLogDir:     ownDir,
		Debounce:      t.cfg.DebounceInterval,
		FlushInterval: t.cfg.ForceFlushInterval,
		Locator:       t.locator,
		Metrics:       t.metrics,
	})
	scanner.Subscribe(t.onEntries)

	t.mu.Lock()
	t.scanner = scanner
	t.mu.Unlock()

	// Stop may have raced scanner construction.
	select {
	case <-t.stopCh:
		scanner.Stop()
		return
	default:
	}

	if err := scanner.Start(); err != nil {
		t.logger.Error().Err(err).Msg("Live scanner failed to start")
	}
}

// onEntries is the scanner subscriber: convert, store, fan out.
func (t *Tracker) onEntries(entries []domain.LogEntry, stats domain.ScanStats) {
	events := analytics.EventsFromEntries(entries, stats.Path, t.sessionFor(stats.Path))

	if _, err := t.store.Add(events); err != nil {
		t.logger.Warn().Err(err).Str("file", stats.Path).Msg("Failed to store events")
	}

	t.notify(events)
}

func (t *Tracker) notify(events []domain.UsageEvent) {
	t.mu.Lock()
	handlers := make([]EventHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(events)
	}
}

// sessionFor composes the per-file session ID with this run's host
// session component.
func (t *Tracker) sessionFor(path string) string {
	return copilotlog.SessionIdentityFor(path, t.runID).String()
}

// deriveOwnLogDir synthesizes a sibling directory under the exthost
// directory of the most recently modified known log file, so the
// locator's parent-sibling derivation resolves that same exthost.
func deriveOwnLogDir(files []string) string {
	var newest string
	var newestMod time.Time

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = f
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return ""
	}

	exthost := filepath.Dir(filepath.Dir(newest))
	return filepath.Join(exthost, "tracker")
}
