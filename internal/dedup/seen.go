package dedup

import (
	"container/heap"
	"sort"
	"time"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// SeenSet is the exact-key set of already emitted items. Entries are kept
// in a min-heap ordered by first-seen time so the oldest can be dropped
// without scanning. SeenSet is not safe for concurrent use; Deduplicator
// serializes access.
type SeenSet struct {
	entries map[string]*seenItem
	order   seenHeap
	seq     uint64
}

type seenItem struct {
	key    string
	seenAt time.Time
	seq    uint64
	index  int
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{entries: make(map[string]*seenItem)}
}

// Len returns the number of keys held.
func (s *SeenSet) Len() int { return len(s.entries) }

// Has reports whether key is present.
func (s *SeenSet) Has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Add inserts key with its first-seen time. Re-adding an existing key keeps
// the original timestamp.
func (s *SeenSet) Add(key string, seenAt time.Time) bool {
	if _, ok := s.entries[key]; ok {
		return false
	}
	s.seq++
	it := &seenItem{key: key, seenAt: seenAt, seq: s.seq}
	s.entries[key] = it
	heap.Push(&s.order, it)
	return true
}

// Oldest returns the earliest first-seen time, or the zero time when empty.
func (s *SeenSet) Oldest() time.Time {
	if len(s.order) == 0 {
		return time.Time{}
	}
	return s.order[0].seenAt
}

// ExpireBefore drops every key first seen strictly before cutoff and
// returns how many were removed.
func (s *SeenSet) ExpireBefore(cutoff time.Time) int {
	removed := 0
	for len(s.order) > 0 && s.order[0].seenAt.Before(cutoff) {
		s.popOldest()
		removed++
	}
	return removed
}

// TrimTo drops the oldest keys until at most max remain. A non-positive max
// leaves the set untouched.
func (s *SeenSet) TrimTo(max int) int {
	if max <= 0 {
		return 0
	}
	removed := 0
	for len(s.entries) > max {
		s.popOldest()
		removed++
	}
	return removed
}

// Entries returns every key ordered by first-seen time, oldest first.
func (s *SeenSet) Entries() []model.SeenEntry {
	items := make([]*seenItem, 0, len(s.entries))
	for _, it := range s.entries {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].less(items[j]) })

	out := make([]model.SeenEntry, len(items))
	for i, it := range items {
		out[i] = model.SeenEntry{Key: it.key, SeenAt: it.seenAt}
	}
	return out
}

func (s *SeenSet) popOldest() {
	it := heap.Pop(&s.order).(*seenItem)
	delete(s.entries, it.key)
}

func (a *seenItem) less(b *seenItem) bool {
	if a.seenAt.Equal(b.seenAt) {
		return a.seq < b.seq
	}
	return a.seenAt.Before(b.seenAt)
}

// seenHeap implements heap.Interface over first-seen time.
type seenHeap []*seenItem

func (h seenHeap) Len() int           { return len(h) }
func (h seenHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h seenHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *seenHeap) Push(x any) {
	it := x.(*seenItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *seenHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
