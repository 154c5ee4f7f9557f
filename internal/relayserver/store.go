// Package relayserver implements the stateless per-owner relay side of
// sync: it stores encrypted CRDT messages and their timestamp fingerprints
// per owner, validates write proofs, and answers range-reconciliation
// rounds, but never decrypts anything (spec §4.5, §6).
//
// Its storage is deliberately separate from internal/history: the relay
// holds ciphertext blobs plus a fingerprint index, never the decrypted
// history/materialized-view tables a local device keeps. The access
// pattern (one Store struct, one *sql.DB, one method per SQL operation,
// explicit transactions) is grounded on internal/db/postgres.go exactly
// like internal/history; see DESIGN.md.
package relayserver

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// Store is the relay's persistent state: one SQLite database shared across
// every owner it serves.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = err // best effort, same rationale as internal/history.Open
	}
	s := &Store{db: db}
	if _, err := s.db.Exec(relaySchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: schema init: %v", evolu.ErrIOFailure, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const relaySchemaSQL = `
CREATE TABLE IF NOT EXISTS relay_owner (
	id         TEXT PRIMARY KEY,
	write_key  BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS relay_message (
	owner_id   TEXT NOT NULL,
	ts         BLOB NOT NULL,
	ciphertext BLOB NOT NULL,
	PRIMARY KEY (owner_id, ts)
);

CREATE TABLE IF NOT EXISTS relay_timestamp_index (
	owner_id TEXT    NOT NULL,
	ts       BLOB    NOT NULL,
	h1       INTEGER NOT NULL,
	h2       INTEGER NOT NULL,
	level    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_id, ts)
);
`

// WriteKeyFor returns the owner's stored write key, or nil if the relay has
// never seen a write for this owner (spec §4.5: first-write provisioning).
func (s *Store) WriteKeyFor(ctx context.Context, ownerID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx, `SELECT write_key FROM relay_owner WHERE id = ?`, ownerID).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return key, nil
}

// ProvisionWriteKey records ownerID's write key the first time it is seen.
// Subsequent calls are no-ops (ON CONFLICT DO NOTHING): once provisioned, a
// write key only changes by an explicit administrative action outside this
// package's scope.
func (s *Store) ProvisionWriteKey(ctx context.Context, ownerID string, writeKey []byte, createdAtMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_owner (id, write_key, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, ownerID, writeKey, createdAtMs)
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

// SaveMessages stores encrypted messages and maintains the owner's
// timestamp index in one transaction, matching internal/history's
// ApplyMessages shape (spec §9: "keep the index strictly in-sync with the
// history table inside the same transaction").
func (s *Store) SaveMessages(ctx context.Context, ownerID string, msgs []evolu.EncryptedCrdtMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		enc := timestamp.Encode(m.Timestamp)
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO relay_message (owner_id, ts, ciphertext) VALUES (?, ?, ?)`,
			ownerID, enc[:], m.Ciphertext)
		if err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrConstraintViolation, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		h := fingerprint.HashTimestamp(enc[:])
		h1, h2 := fingerprint.SplitHalves(h)
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO relay_timestamp_index (owner_id, ts, h1, h2, level)
			VALUES (?, ?, ?, ?, 0)`, ownerID, enc[:], h1, h2); err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

// MessagesAt fetches the ciphertext for each requested timestamp that the
// relay actually holds (missing entries are simply omitted).
func (s *Store) MessagesAt(ctx context.Context, ownerID string, tss []timestamp.Timestamp) ([]evolu.EncryptedCrdtMessage, error) {
	out := make([]evolu.EncryptedCrdtMessage, 0, len(tss))
	for _, t := range tss {
		enc := timestamp.Encode(t)
		var ct []byte
		err := s.db.QueryRowContext(ctx, `
			SELECT ciphertext FROM relay_message WHERE owner_id = ? AND ts = ?`, ownerID, enc[:]).Scan(&ct)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
		out = append(out, evolu.EncryptedCrdtMessage{Timestamp: t, Ciphertext: ct})
	}
	return out, nil
}
