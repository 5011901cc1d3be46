package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
)

// extLanguages maps anonymized file extensions to language names for
// grouping. Unlisted extensions group under the extension itself.
var extLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".rs":    "rust",
	".java":  "java",
	".cs":    "csharp",
	".cpp":   "cpp",
	".c":     "c",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".sh":    "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
}

// EventFromLogEntry converts a parsed log entry into a usage event.
// The log path contributes only its base name (for the ID) and the
// session ID is attached verbatim; neither is stored as a path.
func EventFromLogEntry(entry domain.LogEntry, logPath, sessionID string) domain.UsageEvent {
	kind, source := classifyContext(entry.Context)

	ev := domain.UsageEvent{
		Timestamp:  entry.Timestamp,
		Kind:       kind,
		Source:     source,
		SessionID:  sessionID,
		Model:      entry.ModelName,
		DurationMs: entry.ResponseTimeMs,
		TokensUsed: EstimateTokens(entry.RawLine),
	}

	// Language and file extension only apply to code-producing kinds.
	if kind == domain.EventCompletion || kind == domain.EventEdit {
		if ext := fileExtFromContext(entry.Context); ext != "" {
			ev.FileExt = ext
			if lang, ok := extLanguages[ext]; ok {
				ev.Language = lang
			} else {
				ev.Language = strings.TrimPrefix(ext, ".")
			}
		}
	}

	ev.ID = eventID(ev, filepath.Base(logPath), correlator(entry))
	return ev
}

// EventsFromEntries converts a batch of entries against one log file.
func EventsFromEntries(entries []domain.LogEntry, logPath, sessionID string) []domain.UsageEvent {
	if len(entries) == 0 {
		return nil
	}
	events := make([]domain.UsageEvent, 0, len(entries))
	for _, entry := range entries {
		events = append(events, EventFromLogEntry(entry, logPath, sessionID))
	}
	return events
}

// EstimateTokens estimates the number of tokens in the content using
// max(chars/4, words/0.75).
func EstimateTokens(content string) int {
	chars := len(content)
	words := len(strings.Fields(content))

	charsEstimate := chars / 4
	wordsEstimate := int(float64(words) / 0.75)

	if charsEstimate > wordsEstimate {
		return charsEstimate
	}
	return wordsEstimate
}

// eventID calculates the SHA256 content hash that serves as the sole
// deduplication key. The same record read twice, in the same file,
// always produces the same ID.
func eventID(ev domain.UsageEvent, fileBase, correlator string) string {
	h := sha256.New()

	fmt.Fprintf(h, "%d|", ev.Timestamp.UnixNano())
	fmt.Fprintf(h, "%s|", ev.Kind)
	fmt.Fprintf(h, "%s|", fileBase)
	fmt.Fprintf(h, "%s|", ev.Model)
	fmt.Fprintf(h, "%s|", correlator)
	fmt.Fprintf(h, "%d|", ev.DurationMs)

	return hex.EncodeToString(h.Sum(nil))
}

// correlator picks the strongest request identifier available: the
// request ID from the 3-line sequence, then the ccreq ID, then the raw
// matched text as a last resort.
func correlator(entry domain.LogEntry) string {
	if entry.RequestID != "" {
		return entry.RequestID
	}
	if entry.CCReqID != "" {
		return entry.CCReqID
	}
	return entry.RawLine
}

// classifyContext maps the bracketed context field of a completion
// record to an event kind and UI source. Contexts are free-form strings
// such as "panel-chat", "inline-completion" or "editor-explain";
// matching is by lowercase substring with chat as the default.
func classifyContext(context string) (domain.EventKind, domain.EventSource) {
	c := strings.ToLower(context)

	source := domain.SourceChat
	switch {
	case strings.Contains(c, "inline"):
		source = domain.SourceInline
	case strings.Contains(c, "sidebar"):
		source = domain.SourceSidebar
	}

	kind := domain.EventChat
	switch {
	case strings.Contains(c, "completion"):
		kind = domain.EventCompletion
	case strings.Contains(c, "edit"):
		kind = domain.EventEdit
	case strings.Contains(c, "explain"):
		kind = domain.EventExplain
	}

	return kind, source
}

// fileExtFromContext looks for a file reference inside the context
// field and returns its extension, lowercased. Only the extension is
// kept so no path or file name ever reaches an event.
func fileExtFromContext(context string) string {
	for _, tok := range strings.FieldsFunc(context, func(r rune) bool {
		return r == ' ' || r == '|' || r == ',' || r == ';'
	}) {
		ext := filepath.Ext(tok)
		if len(ext) < 2 || len(ext) > 9 {
			continue
		}
		if isExtWord(ext[1:]) {
			return strings.ToLower(ext)
		}
	}
	return ""
}

// isExtWord reports whether s looks like a file extension body: a
// leading letter followed by letters or digits. Rejects version-number
// fragments such as the "1" in "gpt-4.1".
func isExtWord(s string) bool {
	for i, r := range s {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !letter {
			return false
		}
		if !letter && (r < '0' || r > '9') {
			return false
		}
	}
	return len(s) > 0
}
