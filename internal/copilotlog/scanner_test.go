package copilotlog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
	"github.com/usagekit/copilot-usage-tracker/internal/fswatch"
)

// fakeWatcher is a controllable fswatch.Watcher: tests push changes for a
// path and the scanner's subscription receives them.
type fakeWatcher struct {
	mu   sync.Mutex
	subs map[string]*fakeSub
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{subs: make(map[string]*fakeSub)}
}

func (w *fakeWatcher) Watch(path string) (fswatch.Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sub := &fakeSub{
		events: make(chan fswatch.Change, 16),
		errors: make(chan error, 1),
	}
	w.subs[path] = sub
	return sub, nil
}

func (w *fakeWatcher) send(path string, c fswatch.Change) bool {
	w.mu.Lock()
	sub := w.subs[path]
	w.mu.Unlock()
	if sub == nil || sub.closed() {
		return false
	}
	select {
	case sub.events <- c:
		return true
	default:
		return false
	}
}

type fakeSub struct {
	events chan fswatch.Change
	errors chan error

	mu   sync.Mutex
	done bool
}

func (s *fakeSub) Events() <-chan fswatch.Change { return s.events }
func (s *fakeSub) Errors() <-chan error          { return s.errors }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.events)
		close(s.errors)
	}
	return nil
}

func (s *fakeSub) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func sendChange(t *testing.T, w *fakeWatcher, path string, ct fswatch.ChangeType) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.send(path, fswatch.Change{Type: ct, Path: path}) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no live subscription for %s", path)
}

func waitForState(t *testing.T, s *Scanner, want ScannerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

func waitForBatch(t *testing.T, ch <-chan []domain.LogEntry) []domain.LogEntry {
	t.Helper()
	select {
	case entries := <-ch:
		return entries
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for entries")
		return nil
	}
}

func expectNoBatch(t *testing.T, ch <-chan []domain.LogEntry, wait time.Duration) {
	t.Helper()
	select {
	case entries := <-ch:
		t.Fatalf("unexpected batch: %+v", entries)
	case <-time.After(wait):
	}
}

func newTestScanner(t *testing.T, own string, w fswatch.Watcher) (*Scanner, chan []domain.LogEntry) {
	t.Helper()
	sc := NewScanner(ScannerConfig{
		OwnLogDir:     own,
		Debounce:      10 * time.Millisecond,
		FlushInterval: time.Hour,
		Watcher:       w,
	})
	batches := make(chan []domain.LogEntry, 8)
	sc.Subscribe(func(entries []domain.LogEntry, _ domain.ScanStats) {
		batches <- entries
	})
	return sc, batches
}

func TestScanner_EmitsEntriesOnChange(t *testing.T) {
	exthost, own := buildExthost(t)
	// Pre-existing content must not be re-ingested: the cursor starts at EOF.
	logPath := writeLog(t, filepath.Join(exthost, DefaultExtensionDir), "Copilot Chat.log",
		"2025-08-10 15:00:00.000 [info] ccreq:ancient | success | gpt-4o | 5ms | [panel/chat]\n")

	w := newFakeWatcher()
	sc, batches := newTestScanner(t, own, w)
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitForState(t, sc, WatchingFile)

	appendFile(t, logPath, sampleSequence)
	sendChange(t, w, logPath, fswatch.Changed)

	entries := waitForBatch(t, batches)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", entries[0].RequestID)
	}

	// A notification with no new bytes must not re-emit anything.
	sendChange(t, w, logPath, fswatch.Changed)
	expectNoBatch(t, batches, 150*time.Millisecond)
}

func TestScanner_StatsOnNotify(t *testing.T) {
	exthost, own := buildExthost(t)
	logPath := writeLog(t, filepath.Join(exthost, DefaultExtensionDir), "Copilot Chat.log", "")

	w := newFakeWatcher()
	sc := NewScanner(ScannerConfig{
		OwnLogDir:     own,
		Debounce:      10 * time.Millisecond,
		FlushInterval: time.Hour,
		Watcher:       w,
	})
	statsCh := make(chan domain.ScanStats, 8)
	sc.Subscribe(func(_ []domain.LogEntry, stats domain.ScanStats) {
		statsCh <- stats
	})
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitForState(t, sc, WatchingFile)
	appendFile(t, logPath, "noise line\n"+sampleSequence)
	sendChange(t, w, logPath, fswatch.Changed)

	select {
	case stats := <-statsCh:
		if stats.Path != logPath {
			t.Errorf("stats.Path = %q, want %q", stats.Path, logPath)
		}
		if stats.ParsedCount != 1 {
			t.Errorf("stats.ParsedCount = %d, want 1", stats.ParsedCount)
		}
		if stats.TotalLines != 4 {
			t.Errorf("stats.TotalLines = %d, want 4", stats.TotalLines)
		}
		if stats.BytesRead == 0 {
			t.Error("stats.BytesRead should be non-zero")
		}
		if stats.ScannedAt.IsZero() {
			t.Error("stats.ScannedAt should be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stats")
	}
}

func TestScanner_DirectoryToFileTransition(t *testing.T) {
	exthost, own := buildExthost(t)
	extDir := filepath.Join(exthost, DefaultExtensionDir)
	if err := os.MkdirAll(extDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w := newFakeWatcher()
	sc, batches := newTestScanner(t, own, w)
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitForState(t, sc, WatchingDirectory)

	// The file appears with content already in it; tailing starts at EOF so
	// only later appends are reported.
	logPath := writeLog(t, extDir, "Copilot Chat.log", sampleSequence)
	sendChange(t, w, extDir, fswatch.Created)
	waitForState(t, sc, WatchingFile)

	appendFile(t, logPath,
		"2025-08-10 15:16:00.100 [info] message 2 returned. finish reason: [stop]\n"+
			"2025-08-10 15:16:00.150 [info] request done: requestId: [req-456] model deployment ID: [gpt-4o]\n"+
			"2025-08-10 15:16:00.200 [info] ccreq:aa11bb22 | success | gpt-4o | 80ms | [panel/chat]\n")
	sendChange(t, w, logPath, fswatch.Changed)

	entries := waitForBatch(t, batches)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].RequestID != "req-456" {
		t.Errorf("RequestID = %q, want req-456 (history must not be re-ingested)", entries[0].RequestID)
	}
}

func TestScanner_DeleteTransitionsToDirectory(t *testing.T) {
	exthost, own := buildExthost(t)
	extDir := filepath.Join(exthost, DefaultExtensionDir)
	logPath := writeLog(t, extDir, "Copilot Chat.log", "")

	w := newFakeWatcher()
	sc, _ := newTestScanner(t, own, w)
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitForState(t, sc, WatchingFile)

	if err := os.Remove(logPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	sendChange(t, w, logPath, fswatch.Deleted)
	waitForState(t, sc, WatchingDirectory)

	// The file coming back flips the scanner into file mode again.
	writeLog(t, extDir, "Copilot Chat.log", "")
	sendChange(t, w, extDir, fswatch.Created)
	waitForState(t, sc, WatchingFile)
}

func TestScanner_ForceFlushCatchesMissedWrites(t *testing.T) {
	exthost, own := buildExthost(t)
	logPath := writeLog(t, filepath.Join(exthost, DefaultExtensionDir), "Copilot Chat.log", "")

	w := newFakeWatcher()
	sc := NewScanner(ScannerConfig{
		OwnLogDir:     own,
		Debounce:      time.Hour, // never fires; only the flush may scan
		FlushInterval: 30 * time.Millisecond,
		Watcher:       w,
	})
	batches := make(chan []domain.LogEntry, 8)
	sc.Subscribe(func(entries []domain.LogEntry, _ domain.ScanStats) {
		batches <- entries
	})
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitForState(t, sc, WatchingFile)

	// Append without any change notification.
	appendFile(t, logPath, sampleSequence)

	entries := waitForBatch(t, batches)
	if len(entries) != 1 || entries[0].RequestID != "req-123" {
		t.Fatalf("flush scan entries = %+v, want the appended sequence", entries)
	}
}

func TestScanner_TruncationResetsCursor(t *testing.T) {
	exthost, own := buildExthost(t)
	var pad string
	for i := 0; i < 50; i++ {
		pad += "2025-08-10 14:00:00.000 [info] old noise line that only pads the file out\n"
	}
	logPath := writeLog(t, filepath.Join(exthost, DefaultExtensionDir), "Copilot Chat.log", pad)

	w := newFakeWatcher()
	sc, batches := newTestScanner(t, own, w)
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	waitForState(t, sc, WatchingFile)

	// Rotation in place: the file is rewritten smaller than the cursor.
	if err := os.WriteFile(logPath, []byte(sampleSequence), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	sendChange(t, w, logPath, fswatch.Changed)

	entries := waitForBatch(t, batches)
	if len(entries) != 1 || entries[0].RequestID != "req-123" {
		t.Fatalf("entries after truncation = %+v, want the new content from offset 0", entries)
	}
}

func TestScanner_StopIdempotent(t *testing.T) {
	exthost, own := buildExthost(t)
	writeLog(t, filepath.Join(exthost, DefaultExtensionDir), "Copilot Chat.log", "")

	sc, _ := newTestScanner(t, own, newFakeWatcher())
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sc.Stop()
	sc.Stop()
}

func TestScanner_StopWithoutStart(t *testing.T) {
	sc := NewScanner(ScannerConfig{OwnLogDir: t.TempDir()})
	sc.Stop()
}

func TestScanner_StartTwice(t *testing.T) {
	exthost, own := buildExthost(t)
	writeLog(t, filepath.Join(exthost, DefaultExtensionDir), "Copilot Chat.log", "")

	sc, _ := newTestScanner(t, own, newFakeWatcher())
	if err := sc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sc.Stop()

	if err := sc.Start(); err == nil {
		t.Error("second Start() should return an error")
	}
}

func TestScannerState_String(t *testing.T) {
	tests := []struct {
		st   ScannerState
		want string
	}{
		{Unwatched, "unwatched"},
		{WatchingDirectory, "watching_directory"},
		{WatchingFile, "watching_file"},
		{ScannerState(7), "unknown(7)"},
	}
	for _, tt := range tests {
		if got := tt.st.String(); got != tt.want {
			t.Errorf("ScannerState(%d).String() = %q, want %q", tt.st, got, tt.want)
		}
	}
}
