// Package history implements the CRDT history store and its timestamp
// index: the append-only per-(owner,table,row,column,timestamp) log LWW
// registers are materialized from, and the sparse index range
// reconciliation scans (spec §3, §4.3, §6).
//
// Grounded on internal/db/postgres.go's pool/transaction/Exec/QueryRow
// shape, ported from jackc/pgx to database/sql + modernc.org/sqlite: a
// "local-first... embedded SQL storage" engine (spec §1) cannot depend on
// a network Postgres server, so the storage engine itself is swapped while
// the access pattern (one Store struct owning a pool/handle, one method per
// SQL operation, explicit transactions for multi-statement writes) is kept
// verbatim. See DESIGN.md and SPEC_FULL.md §2.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/evolu-go/core/pkg/evolu"
)

// Store owns the SQLite connection for one local database (spec §5: "The
// SQL connection is exclusively owned by the worker").
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	// SQLite only supports one writer at a time; the worker is already the
	// sole writer by design (spec §5), so a single connection avoids
	// SQLITE_BUSY entirely rather than papering over it with retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[history] WAL mode unavailable, continuing with default journal mode: %v", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers (internal/worker) that need
// to run operations spanning multiple Store methods inside one transaction.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("%w: schema init: %v", evolu.ErrIOFailure, err)
	}
	return s.bootstrapConfig(context.Background())
}

// bootstrapConfig writes the protocol_version config row on first open if
// absent (spec §6 names the config table and the protocol_version key but
// not who writes it; see SPEC_FULL.md §4).
func (s *Store) bootstrapConfig(ctx context.Context) error {
	const protocolVersion = "0"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config(key, value) VALUES ('protocol_version', ?)
		 ON CONFLICT(key) DO NOTHING`, protocolVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS owner (
	id             TEXT PRIMARY KEY,
	encryption_key BLOB NOT NULL,
	write_key      BLOB NOT NULL,
	node_id        TEXT NOT NULL,
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	owner_id    TEXT    NOT NULL,
	table_name  TEXT    NOT NULL,
	row_id      TEXT    NOT NULL,
	column_name TEXT    NOT NULL,
	ts          BLOB    NOT NULL,
	value_kind  INTEGER NOT NULL,
	value_int   INTEGER,
	value_float REAL,
	value_text  TEXT,
	value_bytes BLOB,
	PRIMARY KEY (owner_id, table_name, row_id, column_name, ts)
);

CREATE INDEX IF NOT EXISTS idx_history_row
	ON history(owner_id, table_name, row_id, column_name, ts DESC);

CREATE TABLE IF NOT EXISTS timestamp_index (
	owner_id TEXT    NOT NULL,
	ts       BLOB    NOT NULL,
	h1       INTEGER NOT NULL,
	h2       INTEGER NOT NULL,
	level    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_timestamp_index_order
	ON timestamp_index(owner_id, ts);

CREATE INDEX IF NOT EXISTS idx_history_ts
	ON history(owner_id, ts);
`
