package codec

import (
	"bytes"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, ^uint64(0)}
	for _, v := range values {
		w := NewWriter()
		w.Uvarint(v)
		r := NewReader(w.Bytes())
		got, err := r.Uvarint()
		if err != nil {
			t.Fatalf("unexpected error for %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: want %d, got %d", v, got)
		}
	}
}

func TestBytesFieldRoundTrip(t *testing.T) {
	w := NewWriter()
	w.BytesField([]byte("hello"))
	w.BytesField([]byte{})
	r := NewReader(w.Bytes())
	got, err := r.BytesField()
	if err != nil || !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("unexpected: %v %v", got, err)
	}
	got2, err := r.BytesField()
	if err != nil || len(got2) != 0 {
		t.Fatalf("expected empty field, got %v %v", got2, err)
	}
}

func TestTruncatedFrameReturnsMalformed(t *testing.T) {
	r := NewReader([]byte{0x05, 'a', 'b'})
	if _, err := r.BytesField(); err == nil {
		t.Fatalf("expected an error for truncated field")
	}
}

func TestSizeLimitExceeded(t *testing.T) {
	w := NewWriter()
	w.Uvarint(MaxFieldBytes + 1)
	r := NewReader(w.Bytes())
	if _, err := r.BytesFieldChecked(); err == nil {
		t.Fatalf("expected SizeLimitExceeded error")
	}
}
