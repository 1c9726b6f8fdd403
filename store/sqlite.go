// ABOUTME: Sqlite-backed catalog of sessions for operator listings.
// ABOUTME: The session directories stay authoritative; this index is derived bookkeeping.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	last_active TEXT NOT NULL,
	steps INTEGER NOT NULL DEFAULT 0
);
`

// SessionRecord is one row of the catalog.
type SessionRecord struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Steps      int       `json:"steps"`
}

// SessionIndex catalogs sessions in a sqlite database.
type SessionIndex struct {
	db *sql.DB
}

// Open opens (creating if needed) the index at path.
func Open(path string) (*SessionIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SessionIndex{db: db}, nil
}

// Close releases the underlying database.
func (x *SessionIndex) Close() error {
	return x.db.Close()
}

// Add records a freshly created session.
func (x *SessionIndex) Add(id string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	_, err := x.db.Exec(
		`INSERT INTO sessions (id, created_at, last_active, steps) VALUES (?, ?, ?, 0)
		 ON CONFLICT(id) DO NOTHING`,
		id, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("add session %s: %w", id, err)
	}
	return nil
}

// Touch updates a session's activity time and step count, inserting the
// row if the index somehow missed the session's creation.
func (x *SessionIndex) Touch(id string, at time.Time, steps int) error {
	ts := at.UTC().Format(time.RFC3339)
	_, err := x.db.Exec(
		`INSERT INTO sessions (id, created_at, last_active, steps) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active, steps = excluded.steps`,
		id, ts, ts, steps,
	)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	return nil
}

// List returns every session, most recently active first.
func (x *SessionIndex) List() ([]SessionRecord, error) {
	rows, err := x.db.Query(
		`SELECT id, created_at, last_active, steps FROM sessions ORDER BY last_active DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var created, active string
		if err := rows.Scan(&rec.ID, &created, &active, &rec.Steps); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			rec.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, active); err == nil {
			rec.LastActive = t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}
