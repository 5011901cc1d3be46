package domain

import "time"

// Status classifies the outcome of a single completion request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// StatusFromString maps the raw status field from the log to a Status.
// The upstream log writes the literal "error" for failures; every other
// value (including garbage) counts as success.
func StatusFromString(s string) Status {
	if s == string(StatusError) {
		return StatusError
	}
	return StatusSuccess
}

// LogEntry is one parsed request/response record from the Copilot Chat log.
// Entries are immutable once created by the extractor.
type LogEntry struct {
	// Timestamp of the result-summary line, normalized to UTC.
	Timestamp time.Time

	// RequestID correlates the three lines of a request sequence.
	// Not globally unique across files. Empty for single-line entries.
	RequestID string

	// ModelName is the model deployment reported by the log,
	// "unknown" when the field is absent or empty.
	ModelName string

	// ResponseTimeMs is the reported duration in milliseconds,
	// 0 when the field is missing or unparseable.
	ResponseTimeMs int

	// Status is success unless the log literally says "error".
	Status Status

	// FinishReason, Context and CCReqID are populated only when the
	// entry was captured by the full 3-line pattern.
	FinishReason string
	Context      string
	CCReqID      string

	// RawLine keeps the matched text for debugging and dedup-key input.
	RawLine string
}
