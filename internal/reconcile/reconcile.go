// Package reconcile implements range-based set reconciliation: comparing
// two sorted timestamp sets by recursively refining fingerprinted ranges
// until only the symmetric difference has been exchanged (spec §4.4).
//
// Grounded on other_examples/MaxIOFS-MaxIOFS/internal/cluster/stale_reconciler.go
// for the general "reconciler compares local vs. observed state and emits a
// diff/plan" shape and its accompanying test file for table-driven
// reconciliation test structure; the recursive fingerprint-range splitting
// itself is defined entirely by spec.md §4.4 and kept on the standard
// library (sort) — see DESIGN.md.
package reconcile

import (
	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/timestamp"
)

// RangeKind tags which payload a Range carries (spec §3, §4.5).
type RangeKind uint8

const (
	KindSkip RangeKind = iota
	KindFingerprint
	KindLiteral
)

// Range is one segment of a message's coverage of (−∞, +∞), identified by
// its upper bound; the lower bound is implicit as the previous range's
// upper bound, with the very first range's lower bound being the zero
// timestamp (spec §3).
type Range struct {
	Upper       timestamp.Timestamp
	Kind        RangeKind
	Fingerprint fingerprint.Fingerprint // valid when Kind == KindFingerprint
	Timestamps  []timestamp.Timestamp   // valid when Kind == KindLiteral, ascending
}

const (
	// DefaultLiteralThreshold is the element count at or below which a
	// mismatching range is resolved by exchanging literal timestamp lists
	// rather than splitting further (spec §4.4).
	DefaultLiteralThreshold = 128

	// DefaultSplitFactor k is how many sub-ranges a large mismatching range
	// is divided into (spec §4.4, §9 Open Questions: configurable, default
	// chosen to keep property 4 — O(log n) exchanged messages — true).
	DefaultSplitFactor = 4
)

// Reconciler drives one side's half of range reconciliation against a
// local Store.
type Reconciler struct {
	store       Store
	threshold   int
	splitFactor int
}

type Option func(*Reconciler)

func WithLiteralThreshold(n int) Option { return func(r *Reconciler) { r.threshold = n } }
func WithSplitFactor(k int) Option      { return func(r *Reconciler) { r.splitFactor = k } }

func New(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, threshold: DefaultLiteralThreshold, splitFactor: DefaultSplitFactor}
	for _, opt := range opts {
		opt(r)
	}
	if r.threshold <= 0 {
		r.threshold = DefaultLiteralThreshold
	}
	if r.splitFactor < 2 {
		r.splitFactor = DefaultSplitFactor
	}
	return r
}

// InitialRanges returns the single top-level range covering the whole
// universe (spec §4.4: "the global range is (ZERO_TIMESTAMP, +∞)"), used by
// the initiator to open a sync round.
func (r *Reconciler) InitialRanges() []Range {
	fp := r.store.Fingerprint(timestamp.Zero, timestamp.Max)
	return []Range{{Upper: timestamp.Max, Kind: KindFingerprint, Fingerprint: fp}}
}

func (r *Reconciler) literalsOf(lower, upper timestamp.Timestamp) []timestamp.Timestamp {
	var out []timestamp.Timestamp
	r.store.Iterate(lower, upper, func(t timestamp.Timestamp) bool {
		out = append(out, t)
		return true
	})
	return out
}

// Respond computes this side's reply to a sequence of ranges received from
// a peer, covering the same overall span. lower is the span's starting
// lower bound — the zero timestamp for a top-level exchange, or whatever
// lower bound the caller is resuming from (spec §4.4 step 2–3).
func (r *Reconciler) Respond(lower timestamp.Timestamp, incoming []Range) []Range {
	var out []Range
	cur := lower
	for _, rng := range incoming {
		out = append(out, r.respondOne(cur, rng)...)
		cur = rng.Upper
	}
	return out
}

func (r *Reconciler) respondOne(lower timestamp.Timestamp, rng Range) []Range {
	switch rng.Kind {
	case KindSkip:
		// Peer believes this range already matches; trust it and move on.
		return []Range{{Upper: rng.Upper, Kind: KindSkip}}

	case KindLiteral:
		// Peer sent us its exact contents for this range. If ours are the
		// same the range is settled; otherwise reply in kind so it (and we)
		// can diff and request what's missing (spec §4.4 step 3).
		local := r.literalsOf(lower, rng.Upper)
		same := len(local) == len(rng.Timestamps)
		for i := 0; same && i < len(local); i++ {
			same = timestamp.Equal(local[i], rng.Timestamps[i])
		}
		if same {
			return []Range{{Upper: rng.Upper, Kind: KindSkip}}
		}
		return []Range{{Upper: rng.Upper, Kind: KindLiteral, Timestamps: local}}

	case KindFingerprint:
		localFP := r.store.Fingerprint(lower, rng.Upper)
		if localFP.Equal(rng.Fingerprint) {
			return []Range{{Upper: rng.Upper, Kind: KindSkip}}
		}
		localCount := r.store.Count(lower, rng.Upper)
		if localCount <= r.threshold {
			return []Range{{Upper: rng.Upper, Kind: KindLiteral, Timestamps: r.literalsOf(lower, rng.Upper)}}
		}
		return r.split(lower, rng.Upper, localCount)

	default:
		return []Range{{Upper: rng.Upper, Kind: KindLiteral, Timestamps: r.literalsOf(lower, rng.Upper)}}
	}
}

// split divides (lower, upper] into up to splitFactor sub-ranges of
// roughly equal local element count using FindLowerBound, then replies
// with each sub-range's own local fingerprint (spec §4.4 step 2, "else:
// split into k≥2 sub-ranges").
func (r *Reconciler) split(lower, upper timestamp.Timestamp, totalCount int) []Range {
	target := totalCount / r.splitFactor
	if target < 1 {
		target = 1
	}

	// Walk backward from upper, carving off approximately target-sized
	// chunks, so interior boundaries come out in descending order.
	var descBoundaries []timestamp.Timestamp
	last := upper
	for i := 0; i < r.splitFactor-1; i++ {
		b := r.store.FindLowerBound(last, target)
		if timestamp.Compare(b, lower) <= 0 {
			break
		}
		descBoundaries = append(descBoundaries, b)
		last = b
	}

	points := make([]timestamp.Timestamp, 0, len(descBoundaries)+2)
	points = append(points, lower)
	for i := len(descBoundaries) - 1; i >= 0; i-- {
		points = append(points, descBoundaries[i])
	}
	points = append(points, upper)

	out := make([]Range, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		subLower, subUpper := points[i], points[i+1]
		out = append(out, Range{
			Upper:       subUpper,
			Kind:        KindFingerprint,
			Fingerprint: r.store.Fingerprint(subLower, subUpper),
		})
	}
	return out
}

// AllSkip reports whether every range in a sequence is a Skip — the
// termination condition for a sync session (spec §4.5 state machine:
// "Syncing → Idle when no ranges remain non-Skip").
func AllSkip(ranges []Range) bool {
	for _, rng := range ranges {
		if rng.Kind != KindSkip {
			return false
		}
	}
	return true
}

// DiffLiteral computes which of two ascending, comparably-scoped literal
// timestamp lists the other side is missing: the classic sorted-merge set
// difference (spec §4.4: "requests any timestamps present remotely but
// missing locally... and pushes any it has that the remote lacks").
func DiffLiteral(local, remote []timestamp.Timestamp) (missingLocally, missingRemotely []timestamp.Timestamp) {
	i, j := 0, 0
	for i < len(local) && j < len(remote) {
		switch timestamp.Compare(local[i], remote[j]) {
		case 0:
			i++
			j++
		case -1:
			missingRemotely = append(missingRemotely, local[i])
			i++
		default:
			missingLocally = append(missingLocally, remote[j])
			j++
		}
	}
	missingRemotely = append(missingRemotely, local[i:]...)
	missingLocally = append(missingLocally, remote[j:]...)
	return missingLocally, missingRemotely
}
