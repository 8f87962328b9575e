package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Schema for the conversation tree store. Node identity is a uuid; the
// implicit sqlite rowid doubles as the creation sequence number, the
// deterministic tie-break for sibling ordering. Timestamps are unix
// nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    created_at_ns   INTEGER NOT NULL,
    updated_at_ns   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    id              TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL REFERENCES sessions(id),
    parent_id       TEXT REFERENCES nodes(id),
    role            TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'system')),
    content         TEXT NOT NULL,
    created_at_ns   INTEGER NOT NULL,
    model           TEXT,
    is_active       INTEGER NOT NULL DEFAULT 1,
    pending         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_nodes_session ON nodes(session_id);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
`

// Store is the durable node store and session registry, the tree's single
// source of truth. All tree invariants are enforced here at write time:
// parent existence (within the same session) is checked in the same
// transaction as the child insert, so a reader can never observe a dangling
// parent reference.
type Store struct {
	db    *sqlx.DB
	locks *sessionLocks
}

// Open opens or creates the sqlite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent completions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	return &Store{
		db:    db,
		locks: newSessionLocks(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReconcilePending seals every node left pending by a process that died
// mid-stream, preserving whatever partial content was already written. Run
// once at startup, before accepting new completions.
func (s *Store) ReconcilePending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET pending = 0 WHERE pending = 1`)
	if err != nil {
		return 0, errors.Wrap(err, "reconcile pending nodes")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("sealed orphaned pending nodes")
	}
	return n, nil
}
