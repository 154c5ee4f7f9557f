package timestamp

import (
	"errors"
	"testing"

	"github.com/evolu-go/core/pkg/evolu"
)

func TestSendMonotonic(t *testing.T) {
	c := NewClock()
	local := CreateInitial(1)
	next, err := c.Send(1000, local)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Less(local, next) {
		t.Fatalf("expected send result to be strictly greater than local")
	}
}

func TestSendSameMillisBumpsCounter(t *testing.T) {
	c := NewClock()
	local := Timestamp{Millis: 1000, Counter: 5, NodeID: 1}
	next, err := c.Send(1000, local)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Millis != 1000 || next.Counter != 6 {
		t.Fatalf("expected {1000,6}, got %+v", next)
	}
}

func TestSendDriftExceeded(t *testing.T) {
	c := NewClock()
	local := Timestamp{Millis: DefaultMaxDriftMs + 1, NodeID: 1}
	_, err := c.Send(0, local)
	if !errors.Is(err, evolu.ErrDriftExceeded) {
		t.Fatalf("expected ErrDriftExceeded, got %v", err)
	}
}

func TestSendCounterOverflow(t *testing.T) {
	c := NewClock()
	local := Timestamp{Millis: 1000, Counter: MaxCounter, NodeID: 1}
	_, err := c.Send(1000, local)
	if !errors.Is(err, evolu.ErrCounterOverflow) {
		t.Fatalf("expected ErrCounterOverflow, got %v", err)
	}
}

func TestSendManyCallsOverflowsAt65537(t *testing.T) {
	c := NewClock()
	local := CreateInitial(1)
	var err error
	for i := 0; i < 65537; i++ {
		local, err = c.Send(1000, local)
		if err != nil {
			if i != 65536 {
				t.Fatalf("unexpected failure at call %d: %v", i+1, err)
			}
			if !errors.Is(err, evolu.ErrCounterOverflow) {
				t.Fatalf("expected ErrCounterOverflow, got %v", err)
			}
			return
		}
	}
	t.Fatalf("expected call 65537 to fail with CounterOverflow")
}

func TestReceiveDuplicateNode(t *testing.T) {
	c := NewClock()
	local := CreateInitial(1)
	remote := CreateInitial(1)
	_, err := c.Receive(1000, local, remote)
	if !errors.Is(err, evolu.ErrDuplicateNode) {
		t.Fatalf("expected ErrDuplicateNode, got %v", err)
	}
}

func TestReceiveGreaterThanBoth(t *testing.T) {
	c := NewClock()
	local := Timestamp{Millis: 1000, Counter: 3, NodeID: 1}
	remote := Timestamp{Millis: 1000, Counter: 7, NodeID: 2}
	next, err := c.Receive(1000, local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Less(local, next) || !Less(remote, next) {
		t.Fatalf("expected receive result greater than both inputs, got %+v", next)
	}
	if next.Counter != 8 {
		t.Fatalf("expected counter 8, got %d", next.Counter)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := Timestamp{Millis: 123456789, Counter: 42, NodeID: 0xdeadbeefcafebabe}
	enc := Encode(ts)
	if len(enc) != Size {
		t.Fatalf("expected %d bytes, got %d", Size, len(enc))
	}
	dec, err := Decode(enc[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec != ts {
		t.Fatalf("round trip mismatch: want %+v, got %+v", ts, dec)
	}
}

func TestOrderingPreservedInBinary(t *testing.T) {
	a := Timestamp{Millis: 100, Counter: 1, NodeID: 1}
	b := Timestamp{Millis: 200, Counter: 0, NodeID: 1}
	encA, encB := Encode(a), Encode(b)
	if sign(CompareBinary(encA[:], encB[:])) != sign(Compare(a, b)) {
		t.Fatalf("binary comparison sign does not match total order sign")
	}
}

func sign(x int) int {
	if x < 0 {
		return -1
	}
	if x > 0 {
		return 1
	}
	return 0
}

func TestNodeIDHexRoundTrip(t *testing.T) {
	id := uint64(0x0102030405060708)
	hex := NodeIDHex(id)
	if len(hex) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(hex))
	}
	back, err := NodeIDFromHex(hex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != id {
		t.Fatalf("round trip mismatch: want %x, got %x", id, back)
	}
}
