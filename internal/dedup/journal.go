// Package dedup implements the small on-disk journal that gives the tool
// runner and agent runner at-most-once delivery across reconnects. It
// mirrors the in-memory semantics of the teacher's infra.DedupeCache but
// backs them with a pure-Go SQLite file for durability, the way
// nevindra-oasis's sqlite store does for its own local state.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Journal is an append-only, retention-bounded log of already-served
// identifiers. It is authoritative only for the current process; the
// breadcrumb store itself resolves cross-process races (a create with a
// given requestId already existing fails with a conflict).
type Journal struct {
	db        *sql.DB
	retention time.Duration
}

// Open opens or creates a journal database at path. An empty path opens
// an in-memory database, useful for tests.
func Open(path string, retention time.Duration) (*Journal, error) {
	if path == "" {
		path = ":memory:"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dedup: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // serialize writers through one connection

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS served (
		kind TEXT NOT NULL,
		request_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (kind, request_id)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup: init schema: %w", err)
	}

	return &Journal{db: db, retention: retention}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Kind distinguishes the two journal namespaces from §4.6: tool responses
// keyed by requestId, and agent-side reply-action idempotency keyed by
// (schema_name, event_id).
type Kind string

const (
	KindToolResponse Kind = "tool_response"
	KindAgentReply   Kind = "agent_reply"
)

// Seen reports whether key has already been recorded for kind within the
// retention window.
func (j *Journal) Seen(ctx context.Context, kind Kind, key string) (bool, error) {
	cutoff := time.Now().Add(-j.retention).Unix()
	var count int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM served WHERE kind = ? AND request_id = ? AND created_at >= ?`,
		string(kind), key, cutoff,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("dedup: seen query: %w", err)
	}
	return count > 0, nil
}

// Record marks key as served for kind. Safe to call even if already
// present (idempotent upsert of the timestamp).
func (j *Journal) Record(ctx context.Context, kind Kind, key string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO served (kind, request_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(kind, request_id) DO UPDATE SET created_at = excluded.created_at`,
		string(kind), key, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("dedup: record: %w", err)
	}
	return nil
}

// CheckAndRecord is the atomic check-and-set operation the handlers use:
// it reports whether key was already seen, and if not, records it.
func (j *Journal) CheckAndRecord(ctx context.Context, kind Kind, key string) (alreadySeen bool, err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("dedup: begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().Add(-j.retention).Unix()
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM served WHERE kind = ? AND request_id = ? AND created_at >= ?`,
		string(kind), key, cutoff,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("dedup: check query: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO served (kind, request_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(kind, request_id) DO UPDATE SET created_at = excluded.created_at`,
		string(kind), key, time.Now().Unix(),
	); err != nil {
		return false, fmt.Errorf("dedup: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("dedup: commit: %w", err)
	}
	return false, nil
}

// Prune deletes entries older than the configured retention. Intended to
// be called periodically by the owning runner.
func (j *Journal) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.retention).Unix()
	res, err := j.db.ExecContext(ctx, `DELETE FROM served WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dedup: prune: %w", err)
	}
	return res.RowsAffected()
}
