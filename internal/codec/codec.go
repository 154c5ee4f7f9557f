// Package codec implements the binary encoding primitives the wire
// protocol is built from: uvarint (LEB128) integers, length-prefixed byte
// strings, and a small Writer/Reader pair other packages compose into
// structured messages (spec §4.5).
//
// The primitives themselves are a closed, spec-defined algorithm (LEB128
// over a byte slice) and intentionally stay on the standard library; see
// DESIGN.md.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/evolu-go/core/pkg/evolu"
)

// Writer accumulates an outgoing frame.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

// Uvarint appends v as LEB128.
func (w *Writer) Uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// Byte appends a single raw byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// RawBytes appends raw bytes with no length prefix.
func (w *Writer) RawBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// BytesField appends a uvarint length prefix followed by the raw bytes.
func (w *Writer) BytesField(b []byte) {
	w.Uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// String appends a uvarint-length-prefixed UTF-8 string.
func (w *Writer) String(s string) {
	w.BytesField([]byte(s))
}

// Reader consumes an incoming frame sequentially.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated uvarint", evolu.ErrMalformedFrame)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) Byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("%w: truncated byte", evolu.ErrMalformedFrame)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) RawBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: truncated raw bytes (want %d, have %d)", evolu.ErrMalformedFrame, n, r.Remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// BytesField reads a uvarint length prefix followed by that many bytes.
func (r *Reader) BytesField() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	return r.RawBytes(int(n))
}

func (r *Reader) String() (string, error) {
	b, err := r.BytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MaxFieldBytes bounds a single length-prefixed field to guard against a
// malicious or corrupt length prefix causing an unbounded allocation
// (spec §7 SizeLimitExceeded).
const MaxFieldBytes = 64 << 20 // 64 MiB

func (r *Reader) BytesFieldChecked() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxFieldBytes {
		return nil, fmt.Errorf("%w: field of %d bytes exceeds limit %d", evolu.ErrSizeLimitExceeded, n, MaxFieldBytes)
	}
	return r.RawBytes(int(n))
}
