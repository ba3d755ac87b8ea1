// Package journal persists one row per reconciliation run in a SQLite
// database, so operators can audit what the daemon changed and when.
package journal

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// schema contains all table definitions. Each statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at INTEGER NOT NULL,
    action     TEXT    NOT NULL,
    changed    INTEGER NOT NULL DEFAULT 0,
    message    TEXT    NOT NULL DEFAULT '',
    status     TEXT    NOT NULL DEFAULT '',
    failed     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at
    ON runs (started_at);
`

// Entry is one recorded reconciliation run.
type Entry struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Action    string    `json:"action"`
	Changed   bool      `json:"changed"`
	Message   string    `json:"message"`
	Status    string    `json:"status,omitempty"`
	Failed    string    `json:"failed,omitempty"`
}

// Open opens (or creates) the journal database at path and runs migrations.
// Use ":memory:" for an in-memory database (useful in tests).
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Keep a single writer connection to avoid SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Store records and queries reconciliation runs.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open journal database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a run entry. A zero StartedAt is filled with the current
// time.
func (s *Store) Record(entry Entry) error {
	if s == nil || s.db == nil {
		return errors.New("journal database is required")
	}
	startedAt := entry.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (started_at, action, changed, message, status, failed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, startedAt.Unix(), entry.Action, boolToInt(entry.Changed), entry.Message, entry.Status, entry.Failed)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, action, changed, message, status, failed
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry   Entry
			started int64
			changed int
		)
		if err := rows.Scan(&entry.ID, &started, &entry.Action, &changed, &entry.Message, &entry.Status, &entry.Failed); err != nil {
			return nil, err
		}
		entry.StartedAt = time.Unix(started, 0).UTC()
		entry.Changed = changed != 0
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Cleanup prunes entries older than the retention window.
func (s *Store) Cleanup(retention time.Duration) error {
	return s.cleanupBefore(time.Now().UTC(), retention)
}

func (s *Store) cleanupBefore(now time.Time, retention time.Duration) error {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	cutoff := now.Add(-retention).Unix()
	_, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
