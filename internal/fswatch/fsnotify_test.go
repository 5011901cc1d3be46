package fswatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name    string
		event   fsnotify.Event
		wantNil bool
		want    ChangeType
	}{
		{
			name:  "create",
			event: fsnotify.Event{Name: "/logs/window1", Op: fsnotify.Create},
			want:  Created,
		},
		{
			name:  "write",
			event: fsnotify.Event{Name: "/logs/Copilot.log", Op: fsnotify.Write},
			want:  Changed,
		},
		{
			name:  "chmod",
			event: fsnotify.Event{Name: "/logs/Copilot.log", Op: fsnotify.Chmod},
			want:  Changed,
		},
		{
			name:  "remove",
			event: fsnotify.Event{Name: "/logs/Copilot.log", Op: fsnotify.Remove},
			want:  Deleted,
		},
		{
			name:  "rename",
			event: fsnotify.Event{Name: "/logs/Copilot.log", Op: fsnotify.Rename},
			want:  Deleted,
		},
		{
			name:    "empty name",
			event:   fsnotify.Event{Name: "", Op: fsnotify.Write},
			wantNil: true,
		},
		{
			name:    "no recognized op",
			event:   fsnotify.Event{Name: "/logs/Copilot.log", Op: 0},
			wantNil: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := translate(tc.event)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("translate() = %+v, want nil", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("translate() = nil, want %v", tc.want)
			}
			if got.Type != tc.want {
				t.Errorf("Type = %v, want %v", got.Type, tc.want)
			}
			if got.Path != tc.event.Name {
				t.Errorf("Path = %q, want %q", got.Path, tc.event.Name)
			}
		})
	}
}

func TestFSNotify_WatchDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	sub, err := NewFSNotify().Watch(tmpDir)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer sub.Close()

	logPath := filepath.Join(tmpDir, "Copilot.log")
	if err := os.WriteFile(logPath, []byte("line\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	waitForChange(t, sub.Events(), func(c Change) bool {
		return c.Type == Created && c.Path == logPath
	})

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("more\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitForChange(t, sub.Events(), func(c Change) bool {
		return c.Type == Changed && c.Path == logPath
	})

	if err := os.Remove(logPath); err != nil {
		t.Fatalf("remove log: %v", err)
	}

	waitForChange(t, sub.Events(), func(c Change) bool {
		return c.Type == Deleted && c.Path == logPath
	})
}

func TestFSNotify_WatchMissingPath(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := NewFSNotify().Watch(filepath.Join(tmpDir, "absent"))
	if err == nil {
		t.Fatal("Watch() for missing path should return error")
	}
}

func TestFSNotify_WatchEmptyPath(t *testing.T) {
	_, err := NewFSNotify().Watch("")
	if err == nil {
		t.Fatal("Watch() with empty path should return error")
	}
}

func TestFSNotify_CloseTwice(t *testing.T) {
	tmpDir := t.TempDir()

	sub, err := NewFSNotify().Watch(tmpDir)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	// Second close must not panic.
	_ = sub.Close()
}

func TestChangeType_String(t *testing.T) {
	tests := []struct {
		ct   ChangeType
		want string
	}{
		{Created, "created"},
		{Changed, "changed"},
		{Deleted, "deleted"},
		{ChangeType(99), "unknown(99)"},
	}

	for _, tc := range tests {
		if got := tc.ct.String(); got != tc.want {
			t.Errorf("ChangeType(%d).String() = %q, want %q", tc.ct, got, tc.want)
		}
	}
}

func waitForChange(t *testing.T, ch <-chan Change, match func(Change) bool) Change {
	t.Helper()

	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()

	for {
		select {
		case c, ok := <-ch:
			if !ok {
				t.Fatalf("events channel closed while waiting")
			}
			if match(c) {
				return c
			}
		case <-deadline.C:
			t.Fatalf("timed out waiting for change")
		}
	}
}
