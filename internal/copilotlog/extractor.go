package copilotlog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
)

// Log timestamps are local wall-clock time with no zone marker. They are
// parsed as UTC to keep parsing deterministic across hosts; true local-zone
// resolution is deliberately not attempted.
const timestampLayout = "2006-01-02 15:04:05.000"

const timestampPattern = `\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}`

// sequenceRe matches the 3-line request record the chat assistant writes per
// completion: finish reason, request id / model deployment, and the final
// ccreq summary line. The three lines must be contiguous up to whitespace.
var sequenceRe = regexp.MustCompile(
	timestampPattern +
		`[ \t]+\[info\][ \t]+message[ \t]+\d+[ \t]+returned\.[ \t]+finish[ \t]+reason:[ \t]*\[([^\]\n]*)\]` +
		`[ \t\r]*\n\s*` +
		timestampPattern +
		`[ \t]+\[info\][ \t]+request[ \t]+done:[ \t]*requestId:[ \t]*\[([^\]\n]*)\][ \t]+model[ \t]+deployment[ \t]+ID:[ \t]*\[([^\]\n]*)\]` +
		`[ \t\r]*\n\s*` +
		`(` + timestampPattern + `)` +
		`[ \t]+\[info\][ \t]+ccreq:([0-9A-Za-z-]+)(?:\.[^\s|]*)?` +
		`[ \t]*\|[ \t]*([^|\n]+?)[ \t]*\|[ \t]*([^|\n]+?)[ \t]*\|[ \t]*([^|\n]*?)ms[ \t]*\|[ \t]*\[([^\]\n]*)\]`,
)

// Leading-line shapes, used to hold back an unfinished sequence prefix at the
// end of a read so the full pattern can match once the remaining lines arrive.
var (
	returnedLineRe     = regexp.MustCompile(`^` + timestampPattern + `[ \t]+\[info\][ \t]+message[ \t]+\d+[ \t]+returned\.`)
	requestDoneLineRe  = regexp.MustCompile(`^` + timestampPattern + `[ \t]+\[info\][ \t]+request[ \t]+done:`)
	leadingTimestampRe = regexp.MustCompile(`^(` + timestampPattern + `)`)
)

const completionMarker = "ccreq:"

var errMetadataOnly = errors.New("metadata-only ccreq line")

// Extract returns one LogEntry per request record found in text. The same
// text always yields the same entries.
func Extract(text string) []domain.LogEntry {
	entries, _ := ExtractWithStats(text)
	return entries
}

// ExtractWithStats is Extract plus per-scan line and failure counts. Path,
// BytesRead and ScannedAt on the returned stats are left for the caller.
func ExtractWithStats(text string) ([]domain.LogEntry, domain.ScanStats) {
	var stats domain.ScanStats
	if text == "" {
		return nil, stats
	}
	stats.TotalLines = countLines(text)

	type posEntry struct {
		pos   int
		entry domain.LogEntry
	}
	var found []posEntry

	// Pass 1: full 3-line sequences.
	matches := sequenceRe.FindAllStringSubmatchIndex(text, -1)
	claimed := make([][2]int, 0, len(matches))
	seenCCReq := make(map[string]struct{}, len(matches))
	seenTSModel := make(map[string]struct{}, len(matches))

	for _, m := range matches {
		entry, err := entryFromSequence(text, m)
		if err != nil {
			stats.ErrorCount++
			continue
		}
		claimed = append(claimed, [2]int{m[0], m[1]})
		seenCCReq[entry.CCReqID] = struct{}{}
		seenTSModel[tsModelKey(entry.Timestamp, entry.ModelName)] = struct{}{}
		found = append(found, posEntry{pos: m[0], entry: entry})
	}

	// Pass 2: single completion lines the sequence pattern did not capture.
	off := 0
	for off < len(text) {
		lineStart := off
		var line string
		if nl := strings.IndexByte(text[off:], '\n'); nl < 0 {
			line = text[off:]
			off = len(text)
		} else {
			line = text[off : off+nl]
			off += nl + 1
		}
		line = strings.TrimRight(line, "\r")

		if !strings.Contains(line, completionMarker) {
			continue
		}
		if withinClaimed(claimed, lineStart) {
			continue
		}

		entry, ccreq, err := parseCompletionLine(line)
		if err != nil {
			if !errors.Is(err, errMetadataOnly) {
				stats.ErrorCount++
			}
			continue
		}
		if _, dup := seenCCReq[ccreq]; dup {
			continue
		}
		if _, dup := seenTSModel[tsModelKey(entry.Timestamp, entry.ModelName)]; dup {
			continue
		}
		found = append(found, posEntry{pos: lineStart, entry: entry})
	}

	// Entries are reported in byte order, which for an append-only log is
	// chronological order.
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	entries := make([]domain.LogEntry, len(found))
	for i, f := range found {
		entries[i] = f.entry
	}
	stats.ParsedCount = len(entries)
	return entries, stats
}

// entryFromSequence builds a LogEntry from one sequenceRe match. The
// timestamp comes from the final summary line, the latest of the three.
func entryFromSequence(text string, m []int) (domain.LogEntry, error) {
	group := func(i int) string {
		lo, hi := m[2*i], m[2*i+1]
		if lo < 0 {
			return ""
		}
		return text[lo:hi]
	}

	ts, err := parseLogTimestamp(group(4))
	if err != nil {
		return domain.LogEntry{}, err
	}

	model := strings.TrimSpace(group(7))
	if model == "" {
		model = "unknown"
	}

	return domain.LogEntry{
		Timestamp:      ts,
		RequestID:      group(2),
		ModelName:      model,
		ResponseTimeMs: parseDurationMs(group(8)),
		Status:         domain.StatusFromString(strings.TrimSpace(group(6))),
		FinishReason:   group(1),
		Context:        group(9),
		CCReqID:        group(5),
		RawLine:        text[m[0]:m[1]],
	}, nil
}

// parseCompletionLine parses a standalone ccreq summary line. Lines whose
// pipe-delimited suffix has fewer than 3 fields carry no completion data and
// return errMetadataOnly. Finish reason, request id, ccreq id and context
// exist only on 3-line sequences; the fallback entry keeps them empty. The
// ccreq token is returned separately so lines a sequence match already
// claimed are suppressed.
func parseCompletionLine(line string) (domain.LogEntry, string, error) {
	idx := strings.Index(line, completionMarker)
	if idx < 0 {
		return domain.LogEntry{}, "", fmt.Errorf("no completion marker")
	}

	token := line[idx+len(completionMarker):]
	if cut := strings.IndexAny(token, " \t|"); cut >= 0 {
		token = token[:cut]
	}
	if dot := strings.IndexByte(token, '.'); dot >= 0 {
		token = token[:dot]
	}
	if token == "" {
		return domain.LogEntry{}, "", fmt.Errorf("empty ccreq id")
	}

	tsMatch := leadingTimestampRe.FindString(strings.TrimLeft(line, " \t"))
	if tsMatch == "" {
		return domain.LogEntry{}, "", fmt.Errorf("no leading timestamp")
	}
	ts, err := parseLogTimestamp(tsMatch)
	if err != nil {
		return domain.LogEntry{}, "", err
	}

	parts := strings.Split(line, "|")
	fields := parts[1:]
	if len(fields) < 3 {
		return domain.LogEntry{}, "", errMetadataOnly
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	model := fields[1]
	if model == "" {
		model = "unknown"
	}

	return domain.LogEntry{
		Timestamp:      ts,
		ModelName:      model,
		ResponseTimeMs: parseDurationMs(strings.TrimSuffix(fields[2], "ms")),
		Status:         domain.StatusFromString(fields[0]),
		RawLine:        line,
	}, token, nil
}

func parseLogTimestamp(s string) (time.Time, error) {
	// No zone in the layout, so Parse yields UTC. See the note on
	// timestampLayout.
	ts, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

// parseDurationMs parses the millisecond count of a duration field.
// Non-numeric durations yield 0.
func parseDurationMs(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func tsModelKey(ts time.Time, model string) string {
	return strconv.FormatInt(ts.UnixNano(), 10) + "|" + model
}

func withinClaimed(ranges [][2]int, pos int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

func countLines(text string) int {
	n := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// splitCarry separates text into the part safe to extract now and the part to
// hold for the next read: a trailing partial line, preceded by the first one
// or two lines of a request sequence whose summary line has not arrived yet.
func splitCarry(text string) (scan, carry string) {
	hold := strings.LastIndexByte(text, '\n') + 1
	body := text[:hold]

	if start, line, ok := lastCompleteLine(body); ok {
		switch {
		case requestDoneLineRe.MatchString(line):
			if prev, prevLine, ok2 := lastCompleteLine(body[:start]); ok2 && returnedLineRe.MatchString(prevLine) {
				hold = prev
			}
		case returnedLineRe.MatchString(line):
			hold = start
		}
	}

	return text[:hold], text[hold:]
}

// lastCompleteLine returns the start offset and content of the final
// newline-terminated line of s.
func lastCompleteLine(s string) (int, string, bool) {
	if s == "" || s[len(s)-1] != '\n' {
		return 0, "", false
	}
	end := len(s) - 1
	start := strings.LastIndexByte(s[:end], '\n') + 1
	return start, strings.TrimRight(s[start:end], "\r"), true
}
