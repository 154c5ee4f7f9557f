package envelope

import (
	"crypto/rand"
	"testing"

	"github.com/evolu-go/core/internal/cryptobox"
	"github.com/evolu-go/core/internal/timestamp"
	"github.com/evolu-go/core/pkg/evolu"
)

func testBox(t *testing.T) *cryptobox.Box {
	t.Helper()
	key := make([]byte, cryptobox.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	box, err := cryptobox.New(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return box
}

func TestSealOpenRoundTripPreservesMessage(t *testing.T) {
	box := testBox(t)
	msg := evolu.CrdtMessage{
		Table:     "todo",
		RowID:     "row-1",
		Column:    "title",
		Value:     evolu.TextScalar("buy milk"),
		Timestamp: timestamp.Timestamp{Millis: 123, Counter: 4, NodeID: 5},
	}
	enc, err := Seal(box, msg)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if enc.Timestamp != msg.Timestamp {
		t.Fatalf("timestamp mismatch: got %+v", enc.Timestamp)
	}

	decoded, err := Open(box, enc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if decoded.Table != msg.Table || decoded.RowID != msg.RowID || decoded.Column != msg.Column {
		t.Fatalf("field mismatch: got %+v", decoded)
	}
	if !decoded.Value.Equal(msg.Value) {
		t.Fatalf("value mismatch: got %+v want %+v", decoded.Value, msg.Value)
	}
	if decoded.Timestamp != msg.Timestamp {
		t.Fatalf("timestamp mismatch after open: got %+v", decoded.Timestamp)
	}
}

func TestRoundTripAllScalarKinds(t *testing.T) {
	box := testBox(t)
	values := []evolu.SqlScalar{
		evolu.NullScalar(),
		evolu.IntScalar(-42),
		evolu.FloatScalar(3.14159),
		evolu.TextScalar("hello"),
		evolu.BytesScalar([]byte{1, 2, 3}),
	}
	for _, v := range values {
		msg := evolu.CrdtMessage{Table: "t", RowID: "r", Column: "c", Value: v}
		enc, err := Seal(box, msg)
		if err != nil {
			t.Fatalf("Seal(%+v): %v", v, err)
		}
		decoded, err := Open(box, enc)
		if err != nil {
			t.Fatalf("Open(%+v): %v", v, err)
		}
		if !decoded.Value.Equal(v) {
			t.Fatalf("round trip mismatch for %+v: got %+v", v, decoded.Value)
		}
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	box := testBox(t)
	other := testBox(t)
	msg := evolu.CrdtMessage{Table: "t", RowID: "r", Column: "c", Value: evolu.IntScalar(1)}
	enc, err := Seal(box, msg)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(other, enc); err == nil {
		t.Fatalf("expected decryption under the wrong key to fail")
	}
}
