package domain

import "time"

// EventKind discriminates usage events. Each kind carries only the
// fields that are valid for it: Language and FileExt are meaningful for
// completion and edit events, chat and explain events leave them empty.
type EventKind string

const (
	EventChat       EventKind = "chat"
	EventCompletion EventKind = "completion"
	EventEdit       EventKind = "edit"
	EventExplain    EventKind = "explain"
)

// EventSource identifies where in the host UI the request originated.
type EventSource string

const (
	SourceChat    EventSource = "chat"
	SourceInline  EventSource = "inline"
	SourceSidebar EventSource = "sidebar"
)

// UsageEvent is the normalized, deduplicated unit of analytics, derived
// from a LogEntry or from historical-log parsing.
//
// ID is a content hash over the identifying fields and is the sole
// deduplication key: two events with equal ID are the same event.
type UsageEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      EventKind   `json:"type"`
	Source    EventSource `json:"source"`

	// SessionID is a composite of the host session directory, the
	// window directory and a per-run tracker identifier.
	SessionID string `json:"sessionId"`

	// Model is the model deployment, "unknown" when not reported.
	Model string `json:"model"`

	// Language is derived from FileExt when available. Historical
	// entries usually carry "unknown".
	Language string `json:"language,omitempty"`

	// DurationMs mirrors LogEntry.ResponseTimeMs.
	DurationMs int `json:"duration"`

	// TokensUsed is a heuristic estimate, not an exact count.
	TokensUsed int `json:"tokensUsed"`

	// FileExt is the anonymized file reference: extension only,
	// never a path.
	FileExt string `json:"filePath,omitempty"`
}
