// Package copilotlog discovers the chat assistant's log files, tails them
// incrementally and parses request records out of the appended text.
package copilotlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
	"github.com/usagekit/copilot-usage-tracker/internal/fswatch"
	"github.com/usagekit/copilot-usage-tracker/internal/observability"
)

const tracerName = "github.com/usagekit/copilot-usage-tracker/internal/copilotlog"

const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultFlushInterval = 5 * time.Second
)

const (
	triggerChange = "change"
	triggerFlush  = "flush"
)

// ScannerState is the watch mode the scanner is in.
type ScannerState int

const (
	// Unwatched means no watchable path exists yet; periodic checks keep
	// looking.
	Unwatched ScannerState = iota
	// WatchingDirectory means the log file does not exist yet and its
	// directory is watched for it to appear.
	WatchingDirectory
	// WatchingFile means the log file is being tailed.
	WatchingFile
)

func (s ScannerState) String() string {
	switch s {
	case Unwatched:
		return "unwatched"
	case WatchingDirectory:
		return "watching_directory"
	case WatchingFile:
		return "watching_file"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SubscriberFunc receives the entries of one completed scan. The slice is a
// fresh snapshot; the scanner keeps no reference to it.
type SubscriberFunc func(entries []domain.LogEntry, stats domain.ScanStats)

// ScannerConfig configures a Scanner. Zero values pick defaults.
type ScannerConfig struct {
	// OwnLogDir is the host's own log directory; the assistant's log
	// directory is resolved as its sibling.
	OwnLogDir string

	// Debounce is how long to coalesce change notifications before scanning.
	Debounce time.Duration

	// FlushInterval is the watch-independent recheck period that catches
	// writes the filesystem notifications missed.
	FlushInterval time.Duration

	Watcher fswatch.Watcher
	Locator *Locator

	// Metrics may be shared with other components; nil keeps scan metrics
	// off any registry.
	Metrics *observability.Metrics
}

// Scanner tails the assistant's current log file and feeds appended text
// through the extractor. It owns the file cursor and serializes all scans of
// the watched path on a single goroutine.
type Scanner struct {
	ownLogDir  string
	debounce   time.Duration
	flushEvery time.Duration
	watcher    fswatch.Watcher
	locator    *Locator
	metrics    *observability.Metrics
	log        zerolog.Logger

	mu          sync.Mutex
	state       ScannerState
	started     bool
	subscribers []SubscriberFunc

	// Owned by the run goroutine.
	sub           fswatch.Subscription
	watchedDir    string
	logPath       string
	cursor        int64
	carry         []byte
	debounceTimer *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScanner creates a scanner. It does not touch the filesystem until
// Start.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Watcher == nil {
		cfg.Watcher = fswatch.NewFSNotify()
	}
	if cfg.Locator == nil {
		cfg.Locator = NewLocator()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	return &Scanner{
		ownLogDir:  cfg.OwnLogDir,
		debounce:   cfg.Debounce,
		flushEvery: cfg.FlushInterval,
		watcher:    cfg.Watcher,
		locator:    cfg.Locator,
		metrics:    cfg.Metrics,
		log:        observability.Component("scanner"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Subscribe registers fn to be called after each scan that produced entries.
// Subscribers are called from the scanner's goroutine, one scan at a time.
func (s *Scanner) Subscribe(fn SubscriberFunc) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Start begins watching. The log file not existing yet is not an error; the
// scanner waits for it.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scanner already started")
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	return nil
}

// Stop cancels all timers and watches and waits for the scanner goroutine to
// exit. Safe to call more than once.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.doneCh
	}
}

// State reports the current watch mode.
func (s *Scanner) State() ScannerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scanner) run() {
	defer close(s.doneCh)
	defer s.cleanup()

	s.debounceTimer = time.NewTimer(s.debounce)
	if !s.debounceTimer.Stop() {
		<-s.debounceTimer.C
	}

	flush := time.NewTicker(s.flushEvery)
	defer flush.Stop()

	if path, ok := s.locator.FindLogPath(s.ownLogDir); ok {
		s.watchFile(path)
	} else {
		s.watchDirectory()
	}

	for {
		select {
		case <-s.stopCh:
			return
		case c, ok := <-s.events():
			if !ok {
				s.retarget()
				continue
			}
			s.handleChange(c)
		case err, ok := <-s.errs():
			if !ok {
				s.retarget()
				continue
			}
			if err != nil {
				s.log.Warn().Err(err).Msg("watch error")
			}
		case <-s.debounceTimer.C:
			s.scan(triggerChange)
		case <-flush.C:
			s.flushCheck()
		}
	}
}

func (s *Scanner) events() <-chan fswatch.Change {
	if s.sub == nil {
		return nil
	}
	return s.sub.Events()
}

func (s *Scanner) errs() <-chan error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Errors()
}

func (s *Scanner) handleChange(c fswatch.Change) {
	switch s.State() {
	case WatchingFile:
		if c.Path != s.logPath {
			return
		}
		if c.Type == fswatch.Deleted {
			s.log.Info().Str("file", s.logPath).Msg("log file deleted, watching directory")
			s.watchDirectory()
			return
		}
		s.resetDebounce()

	case WatchingDirectory:
		// Any activity in the directory is a cue to re-resolve; the locator
		// enforces the expected file name.
		if path, ok := s.locator.FindLogPath(s.ownLogDir); ok {
			s.watchFile(path)
			return
		}
		if desired := s.locator.ExtensionLogDir(s.ownLogDir); s.watchedDir != desired && dirExists(desired) {
			s.watchDirectory()
		}
	}
}

// flushCheck runs on the force-flush ticker. It is idempotent: with no new
// bytes and no layout change it does nothing.
func (s *Scanner) flushCheck() {
	switch s.State() {
	case WatchingFile:
		s.scan(triggerFlush)
	case WatchingDirectory, Unwatched:
		if path, ok := s.locator.FindLogPath(s.ownLogDir); ok {
			s.watchFile(path)
			return
		}
		desired := s.locator.ExtensionLogDir(s.ownLogDir)
		if s.State() == Unwatched || (s.watchedDir != desired && dirExists(desired)) {
			s.watchDirectory()
		}
	}
}

// scan reads newly appended bytes and notifies subscribers of extracted
// entries. A failed cycle leaves state untouched; the next trigger retries.
func (s *Scanner) scan(trigger string) {
	if s.State() != WatchingFile || s.logPath == "" {
		return
	}

	_, span := otel.Tracer(tracerName).Start(context.Background(), "copilotlog.scan",
		trace.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("file", s.logPath),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.Scan.Duration.Observe(time.Since(start).Seconds())
	}()

	data, newCursor, err := ReadNew(s.logPath, s.cursor)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Info().Str("file", s.logPath).Msg("log file disappeared, watching directory")
			s.watchDirectory()
			return
		}
		s.metrics.Scan.ScansTotal.WithLabelValues(trigger, "error").Inc()
		s.log.Warn().Err(err).Str("file", s.logPath).Msg("scan failed, will retry")
		span.RecordError(err)
		return
	}

	if newCursor < s.cursor {
		s.log.Info().
			Str("file", s.logPath).
			Int64("size", newCursor).
			Msg("log file truncated, cursor reset")
		s.carry = nil
	}
	s.cursor = newCursor
	s.metrics.Scan.ScansTotal.WithLabelValues(trigger, "ok").Inc()

	if len(data) == 0 {
		return
	}
	s.metrics.Scan.BytesRead.Add(float64(len(data)))

	text := string(s.carry) + string(data)
	scanText, carry := splitCarry(text)
	s.carry = []byte(carry)
	if scanText == "" {
		return
	}

	entries, stats := ExtractWithStats(scanText)
	stats.Path = s.logPath
	stats.BytesRead = int64(len(data))
	stats.ScannedAt = time.Now()

	s.metrics.Scan.EntriesExtracted.Add(float64(len(entries)))
	s.metrics.Scan.ParseErrors.Add(float64(stats.ErrorCount))
	span.SetAttributes(
		attribute.Int("entries", len(entries)),
		attribute.Int("bytes", len(data)),
	)

	s.log.Debug().
		Str("file", s.logPath).
		Str("trigger", trigger).
		Int("entries", len(entries)).
		Int("lines", stats.TotalLines).
		Int("parse_errors", stats.ErrorCount).
		Msg("scan complete")

	if len(entries) == 0 {
		return
	}

	select {
	case <-s.stopCh:
		// Disposed mid-scan: discard the result.
		return
	default:
	}
	s.notify(entries, stats)
}

func (s *Scanner) notify(entries []domain.LogEntry, stats domain.ScanStats) {
	s.mu.Lock()
	subs := make([]SubscriberFunc, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(entries, stats)
	}
}

// watchFile switches to tailing path. The cursor starts at EOF so history is
// not re-ingested; the historical scan covers older content.
func (s *Scanner) watchFile(path string) {
	s.closeSub()

	info, err := os.Stat(path)
	if err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("cannot stat log file")
		s.watchDirectory()
		return
	}

	sub, err := s.watcher.Watch(path)
	if err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("cannot watch log file")
		s.watchDirectory()
		return
	}

	s.sub = sub
	s.watchedDir = ""
	s.logPath = path
	s.cursor = info.Size()
	s.carry = nil
	s.setState(WatchingFile)
	s.log.Info().Str("file", path).Int64("cursor", info.Size()).Msg("watching log file")
}

// watchDirectory switches to waiting for the log file to appear. It prefers
// the assistant's own directory and falls back to the shared exthost parent
// when that does not exist yet.
func (s *Scanner) watchDirectory() {
	s.closeSub()
	s.logPath = ""
	s.cursor = 0
	s.carry = nil

	dir := s.locator.ExtensionLogDir(s.ownLogDir)
	for _, candidate := range []string{dir, filepath.Dir(dir)} {
		sub, err := s.watcher.Watch(candidate)
		if err != nil {
			continue
		}
		s.sub = sub
		s.watchedDir = candidate
		s.setState(WatchingDirectory)
		s.log.Debug().Str("dir", candidate).Msg("watching directory for log file")
		return
	}

	s.watchedDir = ""
	s.setState(Unwatched)
	s.log.Warn().Str("dir", dir).Msg("no watchable log directory, relying on periodic checks")
}

// retarget re-resolves the watch after the underlying subscription was lost.
// When the same file is still current, the cursor survives so no bytes are
// skipped or re-read.
func (s *Scanner) retarget() {
	prevPath, prevCursor, prevCarry := s.logPath, s.cursor, s.carry

	path, ok := s.locator.FindLogPath(s.ownLogDir)
	if !ok {
		s.watchDirectory()
		return
	}

	s.watchFile(path)
	if s.State() == WatchingFile && path == prevPath {
		s.cursor = prevCursor
		s.carry = prevCarry
		s.resetDebounce()
	}
}

func (s *Scanner) resetDebounce() {
	if !s.debounceTimer.Stop() {
		select {
		case <-s.debounceTimer.C:
		default:
		}
	}
	s.debounceTimer.Reset(s.debounce)
}

func (s *Scanner) closeSub() {
	if s.sub == nil {
		return
	}
	sub := s.sub
	s.sub = nil
	if err := sub.Close(); err != nil {
		s.log.Debug().Err(err).Msg("closing watch subscription")
	}
}

func (s *Scanner) cleanup() {
	s.closeSub()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
}

func (s *Scanner) setState(st ScannerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
