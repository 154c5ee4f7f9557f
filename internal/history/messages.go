package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// MessageAt looks up one history entry by its exact timestamp, the
// decrypted counterpart the sync client re-encrypts when a reconciliation
// round finds the relay is missing it (spec §4.4: "pushes any it has that
// the remote lacks"). Local storage never keeps the original ciphertext, so
// pushing an already-applied message means resealing it, not resending
// identical bytes.
func (s *Store) MessageAt(ctx context.Context, ownerID string, ts timestamp.Timestamp) (evolu.CrdtMessage, error) {
	enc := timestamp.Encode(ts)
	row := s.db.QueryRowContext(ctx, `
		SELECT table_name, row_id, column_name, value_kind, value_int, value_float, value_text, value_bytes
		FROM history WHERE owner_id = ? AND ts = ?`, ownerID, enc[:])

	var table, rowID, column string
	var kind int64
	var i sql.NullInt64
	var f sql.NullFloat64
	var txt sql.NullString
	var b []byte
	if err := row.Scan(&table, &rowID, &column, &kind, &i, &f, &txt, &b); err != nil {
		if err == sql.ErrNoRows {
			return evolu.CrdtMessage{}, fmt.Errorf("%w: no history entry at this timestamp", evolu.ErrCorrupted)
		}
		return evolu.CrdtMessage{}, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}

	var ip *int64
	if i.Valid {
		ip = &i.Int64
	}
	var fp *float64
	if f.Valid {
		fp = &f.Float64
	}
	var tp *string
	if txt.Valid {
		tp = &txt.String
	}
	return evolu.CrdtMessage{
		Table:     table,
		RowID:     rowID,
		Column:    column,
		Value:     columnsToScalar(kind, ip, fp, tp, b),
		Timestamp: ts,
	}, nil
}
