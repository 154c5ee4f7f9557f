package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// ApplyMessages upserts each message into the history table and maintains
// the timestamp index in the same transaction, so the index can never drift
// out of sync with the log (spec §4.3, §9 "keep the index strictly in-sync
// with the history table inside the same transaction").
//
// Duplicate (owner,table,row,column,timestamp) keys are silently absorbed
// (idempotence, spec §7 ConstraintViolation) via INSERT OR IGNORE, matching
// the teacher's ON CONFLICT ... upsert idiom in internal/db/postgres.go.
func (s *Store) ApplyMessages(ctx context.Context, ownerID string, msgs []evolu.CrdtMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	touched := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		enc := timestamp.Encode(m.Timestamp)
		kind, i, f, txt, b := scalarToColumns(m.Value)

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO history
				(owner_id, table_name, row_id, column_name, ts, value_kind, value_int, value_float, value_text, value_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ownerID, m.Table, m.RowID, m.Column, enc[:], kind, i, f, txt, b)
		if err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrConstraintViolation, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Already present: idempotent no-op, nothing new to index.
			continue
		}

		h := fingerprint.HashTimestamp(enc[:])
		h1, h2 := fingerprint.SplitHalves(h)
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO timestamp_index (owner_id, ts, h1, h2, level)
			VALUES (?, ?, ?, ?, 0)`, ownerID, enc[:], h1, h2); err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}

		touched[m.Table+"\x00"+m.RowID] = struct{}{}
	}

	for key := range touched {
		table, rowID := splitKey(key)
		if err := s.materializeRow(ctx, tx, ownerID, table, rowID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

func splitKey(key string) (table, rowID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// materializeRow recomputes a user table's row from the maximum-timestamp
// history entry per column and writes it into the user table, creating the
// table on first use (spec §4.3, §6: implicit created_at/updated_at/
// is_deleted columns).
func (s *Store) materializeRow(ctx context.Context, tx *sql.Tx, ownerID, table, rowID string) error {
	if err := ensureUserTable(ctx, tx, table); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT column_name, value_kind, value_int, value_float, value_text, value_bytes, ts
		FROM history h
		WHERE owner_id = ? AND table_name = ? AND row_id = ?
		AND ts = (
			SELECT MAX(ts) FROM history h2
			WHERE h2.owner_id = h.owner_id AND h2.table_name = h.table_name
			  AND h2.row_id = h.row_id AND h2.column_name = h.column_name
		)`, ownerID, table, rowID)
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer rows.Close()

	values := map[string]evolu.SqlScalar{}
	var maxTS timestamp.Timestamp
	for rows.Next() {
		var col string
		var kind int64
		var i sql.NullInt64
		var f sql.NullFloat64
		var txt sql.NullString
		var b []byte
		var ts []byte
		if err := rows.Scan(&col, &kind, &i, &f, &txt, &b, &ts); err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
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
		values[col] = columnsToScalar(kind, ip, fp, tp, b)
		if decoded, err := timestamp.Decode(ts); err == nil && timestamp.Less(maxTS, decoded) {
			maxTS = decoded
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}

	return upsertUserRow(ctx, tx, table, ownerID, rowID, values, maxTS)
}

// ReadRow projects the current value of every column of (table,rowID) from
// the materialized user table (spec §4.3).
func (s *Store) ReadRow(ctx context.Context, ownerID, table, rowID string) (evolu.Row, error) {
	return readUserRow(ctx, s.db, table, ownerID, rowID)
}

// DeleteOwner removes every history, index, owner, and materialized row
// belonging to ownerID (spec §4.3, §3: "deleting an Owner erases every row
// with that owner_id"). User tables are shared across owners, so only rows
// matching owner_id are removed, not the tables themselves.
func (s *Store) DeleteOwner(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	tables, err := s.userTables(ctx, tx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE owner_id = ?`, t), ownerID); err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
	}

	for _, stmt := range []string{
		`DELETE FROM history WHERE owner_id = ?`,
		`DELETE FROM timestamp_index WHERE owner_id = ?`,
		`DELETE FROM owner WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, ownerID); err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

func (s *Store) userTables(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT IN ('owner','history','timestamp_index','config')
		AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
