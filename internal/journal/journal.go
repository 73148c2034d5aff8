// Package journal provides the SQLite-backed transition log and inbox
// ingest ledger. Journal data is derived and rebuildable; the stage
// store's directory contents remain the only source of truth for a
// record's state.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id  TEXT NOT NULL,
	from_stage TEXT NOT NULL DEFAULT '',
	to_stage   TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_record ON transitions(record_id);
CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at);

CREATE TABLE IF NOT EXISTS ingests (
	checksum TEXT PRIMARY KEY,
	path     TEXT NOT NULL,
	at       DATETIME NOT NULL
);
`

// Log defines the journal operations. Consumers should depend on this
// interface rather than the concrete *DB type to facilitate testing.
type Log interface {
	Record(recordID, fromStage, toStage, note string, at time.Time) error
	Recent(limit int) ([]Transition, error)
	Since(t time.Time) ([]Transition, error)
	Seen(checksum string) (bool, error)
	MarkSeen(checksum, path string, at time.Time) error
	Close() error
}

// Verify *DB satisfies Log at compile time.
var _ Log = (*DB)(nil)

// Transition is one logged stage movement.
type Transition struct {
	RecordID  string    `json:"record_id"`
	FromStage string    `json:"from_stage,omitempty"`
	ToStage   string    `json:"to_stage"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

// DB wraps a sql.DB with journal-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record appends one transition entry.
func (db *DB) Record(recordID, fromStage, toStage, note string, at time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO transitions (record_id, from_stage, to_stage, note, at)
		VALUES (?, ?, ?, ?, ?)
	`, recordID, fromStage, toStage, note, at.UTC())
	if err != nil {
		return fmt.Errorf("journal: record transition: %w", err)
	}
	return nil
}

// Recent returns the newest transitions, most recent first.
func (db *DB) Recent(limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT record_id, from_stage, to_stage, note, at
		FROM transitions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

// Since returns every transition at or after t, oldest first.
func (db *DB) Since(t time.Time) ([]Transition, error) {
	rows, err := db.conn.Query(`
		SELECT record_id, from_stage, to_stage, note, at
		FROM transitions WHERE at >= ? ORDER BY id ASC
	`, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("journal: since: %w", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

func scanTransitions(rows *sql.Rows) ([]Transition, error) {
	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.RecordID, &tr.FromStage, &tr.ToStage, &tr.Note, &tr.At); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Seen reports whether an inbox item with this checksum was already
// ingested. The ledger keeps watcher restarts from re-submitting the
// same dropped file.
func (db *DB) Seen(checksum string) (bool, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM ingests WHERE checksum = ?`, checksum).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal: seen: %w", err)
	}
	return true, nil
}

// MarkSeen records an ingested inbox item.
func (db *DB) MarkSeen(checksum, path string, at time.Time) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO ingests (checksum, path, at) VALUES (?, ?, ?)
	`, checksum, path, at.UTC())
	if err != nil {
		return fmt.Errorf("journal: mark seen: %w", err)
	}
	return nil
}
