package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// nowMillis returns the current time as Unix milliseconds, the
// timestamp unit used throughout the schema.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Store wraps a single SQLite database holding all of kto's state.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an already-open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Open opens (creating if necessary) the SQLite file at path and applies
// the schema. A single connection is used — SQLite serialises writers
// anyway, and the store's own transactions provide the write lock
// discipline spec.md §5 requires.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
			}
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// DefaultPath returns $KTO_DB, or ~/.local/share/kto/kto.db.
func DefaultPath() string {
	if p := os.Getenv("KTO_DB"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kto.db"
	}
	return filepath.Join(home, ".local", "share", "kto", "kto.db")
}
