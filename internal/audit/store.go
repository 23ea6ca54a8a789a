// Package audit keeps a SQLite history of table apply results.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event is the outcome of applying one table in one run.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Anchor    string    `json:"anchor"`
	Table     string    `json:"table"`
	Added     int       `json:"added"`
	Resolved  int       `json:"resolved"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Failed reports whether the event records an error.
func (e Event) Failed() bool {
	return e.Error != ""
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Since  time.Time
	Anchor string
	Table  string
	RunID  string
	Limit  int
}

// Store provides persistent storage for apply events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
}

// NewStore creates a new store at the given path.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS table_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			anchor TEXT NOT NULL,
			table_name TEXT NOT NULL,
			added INTEGER DEFAULT 0,
			resolved INTEGER DEFAULT 0,
			kind TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_table_events_timestamp ON table_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_table_events_table ON table_events(anchor, table_name);
		CREATE INDEX IF NOT EXISTS idx_table_events_run ON table_events(run_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 30 // Default 30 days
	}

	return &Store{
		db:            db,
		retentionDays: retentionDays,
	}, nil
}

// Write persists events in one transaction.
func (s *Store) Write(events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO table_events (run_id, timestamp, anchor, table_name, added, resolved, kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, evt := range events {
		ts := evt.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err := stmt.Exec(evt.RunID, ts.UTC(), evt.Anchor, evt.Table, evt.Added, evt.Resolved,
			nullString(evt.Kind), nullString(evt.Error))
		if err != nil {
			return fmt.Errorf("insert history event: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns events matching f, newest first.
func (s *Store) Query(f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, run_id, timestamp, anchor, table_name, added, resolved, kind, error
		FROM table_events WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC())
	}
	if f.Anchor != "" {
		query += " AND anchor = ?"
		args = append(args, f.Anchor)
	}
	if f.Table != "" {
		query += " AND table_name = ?"
		args = append(args, f.Table)
	}
	if f.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, f.RunID)
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var kind, errMsg sql.NullString

		err := rows.Scan(&evt.ID, &evt.RunID, &evt.Timestamp, &evt.Anchor, &evt.Table,
			&evt.Added, &evt.Resolved, &kind, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		evt.Kind = kind.String
		evt.Error = errMsg.String
		events = append(events, evt)
	}

	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM table_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history events: %w", err)
	}

	return result.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM table_events").Scan(&count)
	return count, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
