// Package envelope encodes a CrdtMessage's plaintext payload (table, row,
// column, value) and seals/opens it under an owner's cryptobox.Box, turning
// a CrdtMessage into the EncryptedCrdtMessage the wire protocol and relay
// storage carry (spec §3, §4.2).
//
// Grounded on internal/codec's Writer/Reader for the plaintext layout
// (the same length-prefixed/uvarint primitives the wire frames use) and on
// internal/cryptobox.Box for the AEAD envelope itself.
package envelope

import (
	"fmt"
	"math"

	"github.com/evolu-go/core/internal/codec"
	"github.com/evolu-go/core/internal/cryptobox"
	"github.com/evolu-go/core/pkg/evolu"
)

func floatBits(f float64) uint64    { return math.Float64bits(f) }
func floatFromBits(u uint64) float64 { return math.Float64frombits(u) }

// Seal encodes msg's payload and encrypts it, stamping the result with
// msg.Timestamp (the timestamp itself is never encrypted — the relay and
// index need it in the clear for reconciliation, spec §4.4, §6).
func Seal(box *cryptobox.Box, msg evolu.CrdtMessage) (evolu.EncryptedCrdtMessage, error) {
	plaintext := encodeMessage(msg)
	ciphertext, err := box.Seal(plaintext)
	if err != nil {
		return evolu.EncryptedCrdtMessage{}, err
	}
	return evolu.EncryptedCrdtMessage{Timestamp: msg.Timestamp, Ciphertext: ciphertext}, nil
}

// Open decrypts enc and decodes its payload, reattaching enc's timestamp.
func Open(box *cryptobox.Box, enc evolu.EncryptedCrdtMessage) (evolu.CrdtMessage, error) {
	plaintext, err := box.Open(enc.Ciphertext)
	if err != nil {
		return evolu.CrdtMessage{}, err
	}
	msg, err := decodeMessage(plaintext)
	if err != nil {
		return evolu.CrdtMessage{}, err
	}
	msg.Timestamp = enc.Timestamp
	return msg, nil
}

func encodeMessage(msg evolu.CrdtMessage) []byte {
	w := codec.NewWriter()
	w.String(msg.Table)
	w.String(msg.RowID)
	w.String(msg.Column)
	encodeScalar(w, msg.Value)
	return w.Bytes()
}

func decodeMessage(b []byte) (evolu.CrdtMessage, error) {
	r := codec.NewReader(b)
	table, err := r.String()
	if err != nil {
		return evolu.CrdtMessage{}, err
	}
	rowID, err := r.String()
	if err != nil {
		return evolu.CrdtMessage{}, err
	}
	column, err := r.String()
	if err != nil {
		return evolu.CrdtMessage{}, err
	}
	value, err := decodeScalar(r)
	if err != nil {
		return evolu.CrdtMessage{}, err
	}
	return evolu.CrdtMessage{Table: table, RowID: rowID, Column: column, Value: value}, nil
}

func encodeScalar(w *codec.Writer, v evolu.SqlScalar) {
	w.Byte(byte(v.Kind))
	switch v.Kind {
	case evolu.ScalarNull:
	case evolu.ScalarInt:
		// No zigzag mapping: negative values round-trip fine via int64(u) on
		// decode, just at the full 10-byte uvarint cost instead of a packed one.
		w.Uvarint(uint64(v.Int))
	case evolu.ScalarFloat:
		w.Uvarint(floatBits(v.Float))
	case evolu.ScalarText:
		w.String(v.Text)
	case evolu.ScalarBytes:
		w.BytesField(v.Bytes)
	}
}

func decodeScalar(r *codec.Reader) (evolu.SqlScalar, error) {
	kindByte, err := r.Byte()
	if err != nil {
		return evolu.SqlScalar{}, err
	}
	switch evolu.ScalarKind(kindByte) {
	case evolu.ScalarNull:
		return evolu.NullScalar(), nil
	case evolu.ScalarInt:
		u, err := r.Uvarint()
		if err != nil {
			return evolu.SqlScalar{}, err
		}
		return evolu.IntScalar(int64(u)), nil
	case evolu.ScalarFloat:
		u, err := r.Uvarint()
		if err != nil {
			return evolu.SqlScalar{}, err
		}
		return evolu.FloatScalar(floatFromBits(u)), nil
	case evolu.ScalarText:
		s, err := r.String()
		if err != nil {
			return evolu.SqlScalar{}, err
		}
		return evolu.TextScalar(s), nil
	case evolu.ScalarBytes:
		b, err := r.BytesFieldChecked()
		if err != nil {
			return evolu.SqlScalar{}, err
		}
		return evolu.BytesScalar(b), nil
	default:
		return evolu.SqlScalar{}, fmt.Errorf("%w: scalar kind %d", evolu.ErrUnknownTag, kindByte)
	}
}
