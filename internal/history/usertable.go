package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

// ensureUserTable creates the materialized view table for a user table on
// first use, with the implicit id primary key and created_at/updated_at/
// is_deleted columns (spec §6). owner_id is part of the primary key: a
// single local database can hold more than one Owner (spec §3 "all history
// entries and index rows belong to exactly one Owner"), and two owners may
// independently use the same table/row id, so the materialized view must
// not let their rows collide. Additional columns are added lazily by
// upsertUserRow as CRDT messages reference them.
func ensureUserTable(ctx context.Context, tx *sql.Tx, table string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (
			owner_id   TEXT NOT NULL,
			id         TEXT NOT NULL,
			created_at INTEGER,
			updated_at INTEGER,
			is_deleted INTEGER,
			PRIMARY KEY (owner_id, id)
		)`, table))
	if err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

func existingColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// upsertUserRow writes the full set of currently-known column values for
// one row. Columns present in values are inserted/updated; columns absent
// from values (no history entry yet) are left untouched on an existing row.
// created_at is set only on first insert; updated_at reflects the maximum
// timestamp observed across the row's history (spec §3, §6).
func upsertUserRow(ctx context.Context, tx *sql.Tx, table, ownerID, rowID string, values map[string]evolu.SqlScalar, maxTS timestamp.Timestamp) error {
	existing, err := existingColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	for col := range values {
		if existing[col] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q`, table, col)); err != nil {
			return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
		}
		existing[col] = true
	}

	cols := []string{"owner_id", "id"}
	placeholders := []string{"?", "?"}
	args := []interface{}{ownerID, rowID}
	updateSet := []string{}

	for col, v := range values {
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		args = append(args, scalarToSQLValue(v))
		updateSet = append(updateSet, fmt.Sprintf("%q = excluded.%q", col, col))
	}

	// created_at is only meaningful on first insert; omitted from the
	// UPDATE clause so later writes never move it.
	cols = append(cols, "created_at")
	placeholders = append(placeholders, "?")
	args = append(args, maxTS.Millis)

	cols = append(cols, "updated_at")
	placeholders = append(placeholders, "?")
	args = append(args, maxTS.Millis)
	updateSet = append(updateSet, `"updated_at" = excluded."updated_at"`)

	stmt := fmt.Sprintf(
		`INSERT INTO %q (%s) VALUES (%s)
		 ON CONFLICT(owner_id, id) DO UPDATE SET %s`,
		table, quoteJoin(cols), joinPlaceholders(placeholders), joinStrings(updateSet, ", "))

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return nil
}

// readUserRow projects every column of one materialized row.
func readUserRow(ctx context.Context, db *sql.DB, table, ownerID, rowID string) (evolu.Row, error) {
	exists, err := tableExists(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q WHERE owner_id = ? AND id = ?`, table), ownerID, rowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	if !rows.Next() {
		return nil, rows.Err()
	}

	raw := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}

	out := evolu.Row{}
	for i, col := range cols {
		out[col] = sqlValueToScalar(raw[i])
	}
	return out, nil
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", evolu.ErrIOFailure, err)
	}
	return true, nil
}

func scalarToSQLValue(v evolu.SqlScalar) interface{} {
	switch v.Kind {
	case evolu.ScalarInt:
		return v.Int
	case evolu.ScalarFloat:
		return v.Float
	case evolu.ScalarText:
		return v.Text
	case evolu.ScalarBytes:
		return v.Bytes
	default:
		return nil
	}
}

func sqlValueToScalar(v interface{}) evolu.SqlScalar {
	switch t := v.(type) {
	case nil:
		return evolu.NullScalar()
	case int64:
		return evolu.IntScalar(t)
	case float64:
		return evolu.FloatScalar(t)
	case string:
		return evolu.TextScalar(t)
	case []byte:
		return evolu.BytesScalar(t)
	default:
		return evolu.NullScalar()
	}
}

func quoteJoin(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", c)
	}
	return out
}

func joinPlaceholders(p []string) string {
	return joinStrings(p, ", ")
}

func joinStrings(items []string, sep string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}
