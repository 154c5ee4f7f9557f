// Package timestamp implements the Hybrid Logical Clock used to order CRDT
// writes across devices: a 48-bit millisecond field, a 16-bit tie-break
// counter, and a 64-bit node id, compared lexicographically (spec §3, §4.1).
//
// The bit-packed layout and the "advance past the max of what
// we've observed" update rule follow the same shape as a Snowflake-style
// clock (see other_examples/tackboon-snowflake/id53.go in the reference
// corpus), generalized from a 53-bit single-field layout to the spec's
// three-field HLC and from "generate the next id" to "send/receive".
package timestamp

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/evolu-go/core/pkg/evolu"
)

const (
	MaxMillis  int64 = (1 << 48) - 1
	MaxCounter int64 = (1 << 16) - 1

	// Size is the binary encoding length in bytes: 6 (millis) + 2 (counter) + 8 (node id).
	Size = 16

	// DefaultMaxDriftMs bounds how far a timestamp's millis field may sit
	// ahead of the local wall clock before send/receive refuses to advance.
	DefaultMaxDriftMs int64 = 300_000
)

// Timestamp is the immutable (millis, counter, node_id) tuple (spec §3).
type Timestamp struct {
	Millis  int64
	Counter int64
	NodeID  uint64
}

// Zero is the minimum possible timestamp; reconciliation's global lower
// bound (spec §4.4).
var Zero = Timestamp{}

// Max is the maximum possible timestamp; reconciliation's synthetic global
// upper bound (spec §4.4).
var Max = Timestamp{Millis: MaxMillis, Counter: MaxCounter, NodeID: ^uint64(0)}

// Compare returns -1, 0, or 1 per the lexicographic total order on
// (millis, counter, node_id) (spec §3).
func Compare(a, b Timestamp) int {
	switch {
	case a.Millis != b.Millis:
		if a.Millis < b.Millis {
			return -1
		}
		return 1
	case a.Counter != b.Counter:
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	case a.NodeID != b.NodeID:
		if a.NodeID < b.NodeID {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func Less(a, b Timestamp) bool    { return Compare(a, b) < 0 }
func Equal(a, b Timestamp) bool   { return Compare(a, b) == 0 }

// CreateInitial returns the zero-valued timestamp for a freshly provisioned
// node (spec §4.1).
func CreateInitial(nodeID uint64) Timestamp {
	return Timestamp{Millis: 0, Counter: 0, NodeID: nodeID}
}

// Clock advances a single node's HLC. It is safe for the caller to hold the
// lock externally (the database worker serializes all timestamp generation
// already — see internal/worker); Clock itself does not lock, matching the
// spec's pure send/receive functions.
type Clock struct {
	MaxDriftMs int64
}

// NewClock returns a Clock with the spec's default drift bound.
func NewClock() Clock {
	return Clock{MaxDriftMs: DefaultMaxDriftMs}
}

// Send advances local to a new, strictly greater timestamp anchored on the
// current wall-clock reading nowMs (spec §4.1).
func (c Clock) Send(nowMs int64, local Timestamp) (Timestamp, error) {
	maxDrift := c.MaxDriftMs
	if maxDrift <= 0 {
		maxDrift = DefaultMaxDriftMs
	}

	nextMillis := nowMs
	if local.Millis > nextMillis {
		nextMillis = local.Millis
	}
	if nextMillis-nowMs > maxDrift {
		return Timestamp{}, fmt.Errorf("%w: next=%d now=%d drift_ms=%d", evolu.ErrDriftExceeded, nextMillis, nowMs, maxDrift)
	}
	if nextMillis > MaxMillis {
		return Timestamp{}, fmt.Errorf("%w: millis=%d", evolu.ErrTimeOutOfRange, nextMillis)
	}

	var nextCounter int64
	if nextMillis == local.Millis {
		nextCounter = local.Counter + 1
	}
	if nextCounter > MaxCounter {
		return Timestamp{}, fmt.Errorf("%w: counter=%d", evolu.ErrCounterOverflow, nextCounter)
	}

	return Timestamp{Millis: nextMillis, Counter: nextCounter, NodeID: local.NodeID}, nil
}

// Receive merges an observed remote timestamp into local, returning a new
// timestamp strictly greater than both in total order (spec §4.1).
func (c Clock) Receive(nowMs int64, local, remote Timestamp) (Timestamp, error) {
	if remote.NodeID == local.NodeID {
		return Timestamp{}, fmt.Errorf("%w: node_id=%016x", evolu.ErrDuplicateNode, local.NodeID)
	}

	maxDrift := c.MaxDriftMs
	if maxDrift <= 0 {
		maxDrift = DefaultMaxDriftMs
	}

	nextMillis := nowMs
	if local.Millis > nextMillis {
		nextMillis = local.Millis
	}
	if remote.Millis > nextMillis {
		nextMillis = remote.Millis
	}
	if nextMillis-nowMs > maxDrift {
		return Timestamp{}, fmt.Errorf("%w: next=%d now=%d drift_ms=%d", evolu.ErrDriftExceeded, nextMillis, nowMs, maxDrift)
	}
	if nextMillis > MaxMillis {
		return Timestamp{}, fmt.Errorf("%w: millis=%d", evolu.ErrTimeOutOfRange, nextMillis)
	}

	var nextCounter int64
	switch {
	case nextMillis == local.Millis && nextMillis == remote.Millis:
		nextCounter = max64(local.Counter, remote.Counter) + 1
	case nextMillis == local.Millis:
		nextCounter = local.Counter + 1
	case nextMillis == remote.Millis:
		nextCounter = remote.Counter + 1
	default:
		nextCounter = 0
	}
	if nextCounter > MaxCounter {
		return Timestamp{}, fmt.Errorf("%w: counter=%d", evolu.ErrCounterOverflow, nextCounter)
	}

	return Timestamp{Millis: nextMillis, Counter: nextCounter, NodeID: local.NodeID}, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Encode packs t into its 16-byte big-endian binary form: 6 bytes millis,
// 2 bytes counter, 8 bytes node id. Big-endian makes memcmp order match
// total order (spec §3).
func Encode(t Timestamp) [Size]byte {
	var out [Size]byte
	var millis [8]byte
	binary.BigEndian.PutUint64(millis[:], uint64(t.Millis))
	copy(out[0:6], millis[2:8])
	binary.BigEndian.PutUint16(out[6:8], uint16(t.Counter))
	binary.BigEndian.PutUint64(out[8:16], t.NodeID)
	return out
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Timestamp, error) {
	if len(b) != Size {
		return Timestamp{}, fmt.Errorf("%w: timestamp must be %d bytes, got %d", evolu.ErrMalformedFrame, Size, len(b))
	}
	var millis [8]byte
	copy(millis[2:8], b[0:6])
	return Timestamp{
		Millis:  int64(binary.BigEndian.Uint64(millis[:])),
		Counter: int64(binary.BigEndian.Uint16(b[6:8])),
		NodeID:  binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// CompareBinary compares two encoded timestamps with the same sign as
// Compare on their decoded forms (property: ordering preservation, spec §8).
func CompareBinary(a, b []byte) int {
	for i := 0; i < Size && i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// NodeIDFromHex parses the 16-hex-char node id rendering used in the
// canonical debug string form (spec §6).
func NodeIDFromHex(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, errors.New("timestamp: node id hex must be 16 chars")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// NodeIDHex renders a node id as 16 lowercase hex chars.
func NodeIDHex(nodeID uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], nodeID)
	return hex.EncodeToString(b[:])
}

// String renders the canonical debug form:
// YYYY-MM-DDTHH:MM:SS.sssZ-HHHH-NNNNNNNNNNNNNNNN (spec §6). Never used for
// sync — only logs and debugging.
func (t Timestamp) String() string {
	return fmt.Sprintf("%s-%04X-%s", formatMillisUTC(t.Millis), t.Counter, NodeIDHex(t.NodeID))
}
