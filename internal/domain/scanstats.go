package domain

import "time"

// ScanStats summarizes a single scan pass over a log file. A fresh value
// is produced per scan and never persisted.
type ScanStats struct {
	Path        string
	TotalLines  int
	ParsedCount int
	ErrorCount  int
	BytesRead   int64
	ScannedAt   time.Time
}
