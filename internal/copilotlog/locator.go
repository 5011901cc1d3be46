package copilotlog

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

const (
	// DefaultExtensionDir is the directory the editor gives the chat
	// assistant extension under each window's exthost directory.
	DefaultExtensionDir = "GitHub.copilot-chat"

	// DefaultLogSuffix identifies the assistant's request log file.
	DefaultLogSuffix = "Copilot Chat.log"

	outputLoggingPrefix = "output_logging_"
)

// Locator finds the chat assistant's log files. The resolved current-log
// path is cached per instance; Invalidate drops it.
type Locator struct {
	ExtensionDir string
	LogSuffix    string

	mu    sync.Mutex
	cache string
}

// NewLocator returns a Locator for the standard extension layout.
func NewLocator() *Locator {
	return &Locator{
		ExtensionDir: DefaultExtensionDir,
		LogSuffix:    DefaultLogSuffix,
	}
}

// FindLogPath resolves the assistant's current log file from the host's own
// log directory: the assistant's directory is a sibling under the same
// exthost directory. Absence at any step is expected and reported as
// ("", false), never as an error.
func (l *Locator) FindLogPath(ownLogDir string) (string, bool) {
	l.mu.Lock()
	if l.cache != "" {
		if fileExists(l.cache) {
			path := l.cache
			l.mu.Unlock()
			return path, true
		}
		l.cache = ""
	}
	l.mu.Unlock()

	dir := l.ExtensionLogDir(ownLogDir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), l.LogSuffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		l.mu.Lock()
		l.cache = path
		l.mu.Unlock()
		return path, true
	}
	return "", false
}

// ExtensionLogDir derives the assistant's log directory from the host's own
// log directory. The directory may not exist.
func (l *Locator) ExtensionLogDir(ownLogDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(ownLogDir)), l.ExtensionDir)
}

// Invalidate drops the cached log path so the next lookup re-resolves it.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	l.cache = ""
	l.mu.Unlock()
}

// FindLogPath is the uncached convenience form of Locator.FindLogPath using
// the standard layout.
func FindLogPath(ownLogDir string) (string, bool) {
	l := &Locator{ExtensionDir: DefaultExtensionDir, LogSuffix: DefaultLogSuffix}
	return l.FindLogPath(ownLogDir)
}

// FindAllLogFiles collects every assistant log file under the given roots by
// walking the session/window/exthost layout. A root whose layout does not
// match is searched recursively by filename instead. Missing directories at
// any level are skipped, never fatal. The result is sorted and free of
// duplicates.
func (l *Locator) FindAllLogFiles(roots []string) []string {
	seen := make(map[string]struct{})
	var files []string

	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, root := range roots {
		found, structured := l.walkSessionLayout(root)
		if !structured {
			found = l.walkAnywhere(root)
		}
		for _, f := range found {
			add(f)
		}
	}

	sort.Strings(files)
	return files
}

// walkSessionLayout walks root/<session>/<window>/exthost/{extension dir,
// output_logging_*} collecting matching files. structured reports whether at
// least one exthost directory was readable; when false the caller should
// fall back to an unrestricted search.
func (l *Locator) walkSessionLayout(root string) (files []string, structured bool) {
	sessions, err := os.ReadDir(root)
	if err != nil {
		return nil, false
	}

	for _, session := range sessions {
		if !session.IsDir() {
			continue
		}
		windows, err := os.ReadDir(filepath.Join(root, session.Name()))
		if err != nil {
			continue
		}
		for _, window := range windows {
			if !window.IsDir() || !strings.HasPrefix(window.Name(), "window") {
				continue
			}
			exthost := filepath.Join(root, session.Name(), window.Name(), "exthost")
			holders, err := os.ReadDir(exthost)
			if err != nil {
				continue
			}
			structured = true
			for _, holder := range holders {
				if !holder.IsDir() {
					continue
				}
				name := holder.Name()
				if name != l.ExtensionDir && !strings.HasPrefix(name, outputLoggingPrefix) {
					continue
				}
				files = append(files, l.logFilesIn(filepath.Join(exthost, name))...)
			}
		}
	}
	return files, structured
}

func (l *Locator) logFilesIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), l.LogSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files
}

func (l *Locator) walkAnywhere(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Paths may race with deletes; keep walking.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), l.LogSuffix) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// DefaultLogRoots returns the platform's editor log roots for the products
// that ship the assistant. Paths are returned regardless of existence; the
// walkers tolerate missing directories.
func DefaultLogRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	var base string
	switch runtime.GOOS {
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
	}

	products := []string{"Code", "Code - Insiders", "VSCodium"}
	roots := make([]string, 0, len(products))
	for _, p := range products {
		roots = append(roots, filepath.Join(base, p, "logs"))
	}
	return roots
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
