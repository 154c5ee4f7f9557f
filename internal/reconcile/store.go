package reconcile

import (
	"sort"

	"github.com/evolu-go/core/internal/fingerprint"
	"github.com/evolu-go/core/internal/timestamp"
)

// Store is the local side of range reconciliation: a sorted set of
// timestamps the reconciler can fingerprint, count, and iterate over
// without ever materializing the whole set at once (spec §4.4 primitives).
// internal/history's SQLite-backed timestamp_index implements this over a
// real table; SortedSet below implements it in memory.
type Store interface {
	Size() int
	// Fingerprint XORs the per-element hash over the half-open range
	// (lower, upper].
	Fingerprint(lower, upper timestamp.Timestamp) fingerprint.Fingerprint
	// Count returns the number of elements in (lower, upper].
	Count(lower, upper timestamp.Timestamp) int
	// FindLowerBound picks a timestamp b such that (b, upper] contains
	// approximately targetCount elements.
	FindLowerBound(upper timestamp.Timestamp, targetCount int) timestamp.Timestamp
	// Iterate calls cb for every timestamp in (lower, upper] in ascending
	// order, stopping early if cb returns false.
	Iterate(lower, upper timestamp.Timestamp, cb func(timestamp.Timestamp) bool)
}

// SortedSet is an in-memory Store, used directly by tests.
type SortedSet struct {
	items []timestamp.Timestamp // kept sorted ascending
}

func NewSortedSet(items ...timestamp.Timestamp) *SortedSet {
	s := &SortedSet{items: append([]timestamp.Timestamp(nil), items...)}
	sort.Slice(s.items, func(i, j int) bool { return timestamp.Less(s.items[i], s.items[j]) })
	return s
}

func (s *SortedSet) Add(t timestamp.Timestamp) {
	i := sort.Search(len(s.items), func(i int) bool { return !timestamp.Less(s.items[i], t) })
	if i < len(s.items) && timestamp.Equal(s.items[i], t) {
		return
	}
	s.items = append(s.items, timestamp.Timestamp{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = t
}

func (s *SortedSet) Size() int { return len(s.items) }

// boundsIndices returns [lo, hi) indices of items in (lower, upper].
func (s *SortedSet) boundsIndices(lower, upper timestamp.Timestamp) (int, int) {
	lo := sort.Search(len(s.items), func(i int) bool { return timestamp.Compare(s.items[i], lower) > 0 })
	hi := sort.Search(len(s.items), func(i int) bool { return timestamp.Compare(s.items[i], upper) > 0 })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (s *SortedSet) Count(lower, upper timestamp.Timestamp) int {
	lo, hi := s.boundsIndices(lower, upper)
	return hi - lo
}

func (s *SortedSet) Fingerprint(lower, upper timestamp.Timestamp) fingerprint.Fingerprint {
	lo, hi := s.boundsIndices(lower, upper)
	var f fingerprint.Fingerprint
	for i := lo; i < hi; i++ {
		enc := timestamp.Encode(s.items[i])
		f = f.Add(enc[:])
	}
	return f
}

// FindLowerBound counts back from upper until targetCount elements have
// been included, returning the timestamp just below the first of them (or
// the zero timestamp if upper's range holds fewer than targetCount items).
func (s *SortedSet) FindLowerBound(upper timestamp.Timestamp, targetCount int) timestamp.Timestamp {
	hi := sort.Search(len(s.items), func(i int) bool { return timestamp.Compare(s.items[i], upper) > 0 })
	if targetCount <= 0 || hi == 0 {
		return timestamp.Zero
	}
	idx := hi - targetCount
	if idx <= 0 {
		return timestamp.Zero
	}
	return s.items[idx-1]
}

func (s *SortedSet) Iterate(lower, upper timestamp.Timestamp, cb func(timestamp.Timestamp) bool) {
	lo, hi := s.boundsIndices(lower, upper)
	for i := lo; i < hi; i++ {
		if !cb(s.items[i]) {
			return
		}
	}
}

// All returns every element in ascending order.
func (s *SortedSet) All() []timestamp.Timestamp {
	return append([]timestamp.Timestamp(nil), s.items...)
}
