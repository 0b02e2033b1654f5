// Package audit persists a record of every generative model call so a
// run can be reconstructed after the fact. The store is SQLite backed
// and append-only from the pipeline's point of view.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS calls (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	caller          TEXT NOT NULL,
	purpose         TEXT NOT NULL,
	model           TEXT NOT NULL,
	status          TEXT NOT NULL,
	safety_category TEXT NOT NULL DEFAULT '',
	latency_ms      INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_run ON calls (run_id);
CREATE INDEX IF NOT EXISTS idx_calls_status ON calls (status);
`

// Call statuses recorded for every gateway round trip.
const (
	StatusOK          = "ok"
	StatusTransport   = "transport_failure"
	StatusSafetyBlock = "safety_blocked"
	StatusMalformed   = "malformed_response"
	StatusCancelled   = "cancelled"
)

// Call is one recorded model invocation.
type Call struct {
	ID             int64         `json:"id"`
	RunID          string        `json:"run_id"`
	Caller         string        `json:"caller"`
	Purpose        string        `json:"purpose"`
	Model          string        `json:"model"`
	Status         string        `json:"status"`
	SafetyCategory string        `json:"safety_category,omitempty"`
	Latency        time.Duration `json:"latency"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Store manages the SQLite audit database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite supports one writer at a time; WAL lets reads proceed
	// while the pipeline appends.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends one call record and fills in its ID.
func (s *Store) Record(call *Call) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	createdAt := call.CreatedAt.UTC().Format("2006-01-02 15:04:05")

	query := `
		INSERT INTO calls (run_id, caller, purpose, model, status, safety_category, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		call.RunID,
		call.Caller,
		call.Purpose,
		call.Model,
		call.Status,
		call.SafetyCategory,
		call.Latency.Milliseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	call.ID = id
	return nil
}

// CountByStatus returns how many recorded calls ended with the given status.
func (s *Store) CountByStatus(status string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM calls WHERE status = ?", status).Scan(&n)
	return n, err
}

// CallsForRun returns every call recorded for one run, oldest first.
func (s *Store) CallsForRun(runID string) ([]Call, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, caller, purpose, model, status, safety_category, latency_ms, created_at
		FROM calls
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		var latencyMS int64
		var createdAt string
		if err := rows.Scan(&c.ID, &c.RunID, &c.Caller, &c.Purpose, &c.Model,
			&c.Status, &c.SafetyCategory, &latencyMS, &createdAt); err != nil {
			return nil, err
		}
		c.Latency = time.Duration(latencyMS) * time.Millisecond
		if ts, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			c.CreatedAt = ts
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// DailyCallCount returns the number of calls recorded today (UTC).
func (s *Store) DailyCallCount() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM calls
		WHERE strftime('%Y-%m-%d', created_at) = strftime('%Y-%m-%d', 'now')
	`).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
