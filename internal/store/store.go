// Package store persists chat history in SQLite. A session keeps one thread
// per answer mode, so clearing the documents thread leaves general chat
// alone. Threads outlive the process and are replayed when a session with
// the same ID is opened again.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Turn is one persisted question/answer exchange.
type Turn struct {
	Question  string
	Answer    string
	CreatedAt time.Time
}

// HistoryStore persists chat turns keyed by session ID and mode.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists one completed turn.
	Append(ctx context.Context, session, mode string, turn Turn) error
	// Recent returns the newest n turns oldest first; n <= 0 returns all.
	Recent(ctx context.Context, session, mode string, n int) ([]Turn, error)
	// Clear deletes one mode's turns, or every mode's when mode is "".
	Clear(ctx context.Context, session, mode string) error
	Close() error
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session    TEXT    NOT NULL,
		mode       TEXT    NOT NULL,
		question   TEXT    NOT NULL,
		answer     TEXT    NOT NULL,
		created_ms INTEGER NOT NULL
	)`,
	`CREATE INDEX turns_by_thread ON turns (session, mode, id)`,
}

// SQLiteStore is a HistoryStore in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns ~/.docchat/history.db, creating the directory.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: home directory: %w", err)
	}
	dir := filepath.Join(home, ".docchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens or creates the database at path and brings its schema up to
// date. ":memory:" gives a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("store: schema version %d is newer than this build (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
		// PRAGMA takes no bind parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Append persists turn, stamping a zero CreatedAt with the current time.
func (s *SQLiteStore) Append(ctx context.Context, session, mode string, turn Turn) error {
	at := turn.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session, mode, question, answer, created_ms) VALUES (?, ?, ?, ?, ?)`,
		session, mode, turn.Question, turn.Answer, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: append %s/%s: %w", session, mode, err)
	}
	return nil
}

// Recent returns the newest n turns of the thread, oldest first, ordered by
// insertion.
func (s *SQLiteStore) Recent(ctx context.Context, session, mode string, n int) ([]Turn, error) {
	if n <= 0 {
		n = -1 // LIMIT -1 is unbounded in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, created_ms FROM (
			SELECT id, question, answer, created_ms FROM turns
			WHERE session = ? AND mode = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id`, session, mode, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent %s/%s: %w", session, mode, err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var turns []Turn
	for rows.Next() {
		var (
			t  Turn
			ms int64
		)
		if err := rows.Scan(&t.Question, &t.Answer, &ms); err != nil {
			return nil, fmt.Errorf("store: recent %s/%s: %w", session, mode, err)
		}
		t.CreatedAt = time.UnixMilli(ms)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent %s/%s: %w", session, mode, err)
	}
	return turns, nil
}

// Clear deletes the session's turns for mode, or all of them when mode is "".
func (s *SQLiteStore) Clear(ctx context.Context, session, mode string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session = ?1 AND (?2 = '' OR mode = ?2)`, session, mode)
	if err != nil {
		return fmt.Errorf("store: clear %s: %w", session, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
