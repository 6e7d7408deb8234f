// Package reconcile is the evidence receiver: it dedups and persists
// per-session evidence, acknowledges durably, and projects AsRun records.
// It never mutates execution state; reconciliation is read-only downstream.
package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/slbailey/retrovue/internal/evidence"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id          TEXT PRIMARY KEY,
	channel_id          TEXT NOT NULL,
	last_acked_sequence INTEGER NOT NULL DEFAULT 0,
	updated_utc         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	session_id   TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	payload_type TEXT NOT NULL,
	emitted_utc  TEXT NOT NULL,
	envelope     TEXT NOT NULL,
	PRIMARY KEY (session_id, sequence)
);
`

// Store persists received evidence and session acks in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the receiver database at path. ":memory:" is
// accepted for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open receiver db: %w", err)
	}
	// The receiver serializes per-session writes; a single connection keeps
	// SQLite locking simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply receiver schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping probes the database, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InsertEvent stores one envelope. Duplicates (same session and sequence)
// are ignored; the return value reports whether the row was new.
func (s *Store) InsertEvent(env evidence.Envelope) (bool, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("encode envelope: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO events (session_id, sequence, payload_type, emitted_utc, envelope)
		 VALUES (?, ?, ?, ?, ?)`,
		env.PlayoutSessionID, env.Sequence, string(env.PayloadType), env.EmittedUTC, string(raw))
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateAck persists a session ack. Regressions are ignored so the stored
// ack is monotonically non-decreasing.
func (s *Store) UpdateAck(sessionID, channelID string, seq uint64, updatedUTC string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, channel_id, last_acked_sequence, updated_utc)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			last_acked_sequence = MAX(last_acked_sequence, excluded.last_acked_sequence),
			updated_utc = excluded.updated_utc`,
		sessionID, channelID, seq, updatedUTC)
	if err != nil {
		return fmt.Errorf("update session ack: %w", err)
	}
	return nil
}

// AckFor returns the persisted ack for a session, 0 when unknown.
func (s *Store) AckFor(sessionID string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRow(
		`SELECT last_acked_sequence FROM sessions WHERE session_id = ?`, sessionID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load session ack: %w", err)
	}
	return seq, nil
}

// EventsFor returns a session's stored envelopes in sequence order.
func (s *Store) EventsFor(sessionID string) ([]evidence.Envelope, error) {
	rows, err := s.db.Query(
		`SELECT envelope FROM events WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []evidence.Envelope
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var env evidence.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("decode stored envelope: %w", err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}
