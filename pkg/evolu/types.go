// Package evolu defines the public value types shared across the sync
// engine: scalar values, CRDT messages, mutations, and materialized rows.
package evolu

import "github.com/evolu-go/core/internal/timestamp"

// ScalarKind tags which variant of SqlScalar is populated.
type ScalarKind uint8

const (
	ScalarNull ScalarKind = iota
	ScalarInt
	ScalarFloat
	ScalarText
	ScalarBytes
)

// SqlScalar is the tagged union of values a CRDT message column may carry:
// null | i64 | f64 | text | bytes (spec §3).
type SqlScalar struct {
	Kind  ScalarKind
	Int   int64
	Float float64
	Text  string
	Bytes []byte
}

func NullScalar() SqlScalar                 { return SqlScalar{Kind: ScalarNull} }
func IntScalar(v int64) SqlScalar           { return SqlScalar{Kind: ScalarInt, Int: v} }
func FloatScalar(v float64) SqlScalar       { return SqlScalar{Kind: ScalarFloat, Float: v} }
func TextScalar(v string) SqlScalar         { return SqlScalar{Kind: ScalarText, Text: v} }
func BytesScalar(v []byte) SqlScalar        { return SqlScalar{Kind: ScalarBytes, Bytes: append([]byte(nil), v...)} }

// Equal reports whether two scalars carry the same kind and value.
func (s SqlScalar) Equal(o SqlScalar) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case ScalarNull:
		return true
	case ScalarInt:
		return s.Int == o.Int
	case ScalarFloat:
		return s.Float == o.Float
	case ScalarText:
		return s.Text == o.Text
	case ScalarBytes:
		return string(s.Bytes) == string(o.Bytes)
	}
	return false
}

// CrdtMessage asserts "column of row was set to value at timestamp" (spec §3).
type CrdtMessage struct {
	Table     string
	RowID     string
	Column    string
	Value     SqlScalar
	Timestamp timestamp.Timestamp
}

// EncryptedCrdtMessage envelopes a CrdtMessage's {table,row,column,value}
// under the owner's encryption key with a fresh nonce (spec §3).
type EncryptedCrdtMessage struct {
	Timestamp  timestamp.Timestamp
	Ciphertext []byte
}

// ColumnSet is a single mutation's column → value assignments for one row.
type ColumnSet map[string]SqlScalar

// Mutation is a single local write request issued by a host against the
// worker: set the given columns of (table,rowID) to the given values.
type Mutation struct {
	Table   string
	RowID   string
	Columns ColumnSet
}

// Row is the materialized current value of a table row, one SqlScalar per
// column, including the implicit created_at/updated_at/is_deleted columns
// (spec §6).
type Row map[string]SqlScalar

// MutationResult is what a committed (or rejected) mutation returns to its
// caller (spec §7): either {ok, id} or {err, reason}.
type MutationResult struct {
	OK    bool
	ID    string
	Err   error
}
