package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evolu-go/core/pkg/evolu"
)

// OwnerRecord is the persisted shape of an owner row: keys at rest, never
// the mnemonic they were derived from (spec §3: "the mnemonic itself is
// never written to storage").
type OwnerRecord struct {
	ID            string
	EncryptionKey []byte
	WriteKey      []byte
	NodeID        string
	CreatedAt     time.Time
}

// SaveOwner persists an owner's derived keys in the local store, inserting
// the row or updating the keys and node id of an existing one.
func (s *Store) SaveOwner(ctx context.Context, rec OwnerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner (id, encryption_key, write_key, node_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			encryption_key = excluded.encryption_key,
			write_key      = excluded.write_key,
			node_id        = excluded.node_id`,
		rec.ID, rec.EncryptionKey, rec.WriteKey, rec.NodeID, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

// LoadOwner reads back a previously saved owner record.
func (s *Store) LoadOwner(ctx context.Context, ownerID string) (*OwnerRecord, error) {
	var rec OwnerRecord
	var createdAtMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, encryption_key, write_key, node_id, created_at
		FROM owner WHERE id = ?`, ownerID).
		Scan(&rec.ID, &rec.EncryptionKey, &rec.WriteKey, &rec.NodeID, &createdAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	return &rec, nil
}

// WriteKeyFor returns the stored write key for an owner, or nil if no
// owner record exists.
func (s *Store) WriteKeyFor(ctx context.Context, ownerID string) ([]byte, error) {
	rec, err := s.LoadOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.WriteKey, nil
}
