// Package store implements the embedded relational store for kto:
// watches, snapshots, changes, and the per-watch/global agent memory.
//
// All timestamps are UNIX epoch milliseconds. All identifiers are
// 128-bit random lowercase-hex strings (see the root-level idgen package).
package store

import "database/sql"

// Watch is a monitoring configuration.
type Watch struct {
	ID              string
	Name            string
	URL             string
	Engine          string // http, js-render, rss, shell
	ExtractionMode  string // auto, selector, full, meta, rss, json_ld
	ExtractionCSS   string // selector text, only meaningful when ExtractionMode == "selector"
	StripWhitespace bool
	StripDates      bool
	StripRandomIDs  bool
	FiltersJSON     string // JSON-encoded []filter.Rule
	AgentEnabled    bool
	AgentInstr      string
	AgentUseProfile bool
	IntervalSecs    int64
	Enabled         bool
	HeadersJSON     string // JSON-encoded map[string]string
	CookieFile      string
	StorageState    string
	NotifyTarget    string // "" = use global default, "none" = suppress
	TagsJSON        string // JSON-encoded []string
	LastCheckedAt   *int64
	LastHash        string
	LastETag        string // upstream ETag response header, sent back as If-None-Match
	LastModified    string // upstream Last-Modified response header, sent back as If-Modified-Since
	LastStatus      string // pending, ok, unchanged, error
	LastError       string
	FailCount       int
	CreatedAt       int64
	UpdatedAt       int64
}

// Snapshot is a point-in-time observation of a watch.
type Snapshot struct {
	ID          string
	WatchID     string
	FetchedAt   int64
	Raw         []byte // fetched bytes as-is (not compressed); NULL (nil) once pruned
	Extracted   string
	ContentHash string
}

// Change is a detected transition between two consecutive snapshots.
type Change struct {
	ID             string
	WatchID        string
	DetectedAt     int64
	OldSnapshotID  string
	NewSnapshotID  string
	Diff           string
	FilterPassed   bool
	AgentResponse  sql.NullString // JSON-encoded agent.Verdict, null if agent skipped/failed
	Notified       bool
	NotifyAttempts int
	NextNotifyAt   int64
}

// AgentMemory is a per-watch scratchpad the external agent reads and writes.
type AgentMemory struct {
	WatchID   string
	Memory    string // opaque JSON document
	UpdatedAt int64
}

// GlobalMemory is the singleton cross-watch memory row.
type GlobalMemory struct {
	Memory    string
	UpdatedAt int64
}

// FetchLogEntry records one fetch attempt, successful or not, for
// observability independent of whether it produced a new snapshot.
type FetchLogEntry struct {
	ID           string
	WatchID      string
	Status       string // ok, unchanged, error, extract_error
	StatusCode   int
	ContentHash  string
	ErrorMessage string
	DurationMs   int64
	FetchedAt    int64
}

// Stats are aggregate counters for the whole store.
type Stats struct {
	WatchCount    int
	SnapshotCount int
	ChangeCount   int
	NotifiedCount int
}

// SearchResult is one FTS5 hit over changes/snapshots.
type SearchResult struct {
	ChangeID string
	WatchID  string
	Snippet  string
}
