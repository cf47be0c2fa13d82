package dedup

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tge-sentinel/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time         { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDedup(cfg Config) (*Deduplicator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	d := New(cfg)
	d.nowFunc = clock.Now
	return d, clock
}

func urlItem(n int) model.CandidateItem {
	return model.CandidateItem{
		Title:    fmt.Sprintf("post %d", n),
		URL:      fmt.Sprintf("https://example.com/posts/%d", n),
		SourceID: "feed",
	}
}

// longBody returns n distinct words, with the words at the given indexes
// replaced.
func longBody(n int, replace ...int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	for _, i := range replace {
		words[i] = fmt.Sprintf("changed%03d", i)
	}
	return strings.Join(words, " ")
}

func TestIsNew_Idempotent(t *testing.T) {
	d, _ := newTestDedup(DefaultConfig())
	it := urlItem(1)

	assert.True(t, d.IsNew(it))
	assert.False(t, d.IsNew(it))
	assert.False(t, d.IsNew(it))
	assert.Equal(t, 1, d.Stats().SeenEntries)
}

func TestIsNew_TrackingParamDuplicate(t *testing.T) {
	d, _ := newTestDedup(DefaultConfig())
	assert.True(t, d.IsNew(model.CandidateItem{URL: "https://news.example/caldera-tge", SourceID: "a"}))
	assert.False(t, d.IsNew(model.CandidateItem{URL: "https://news.example/caldera-tge?utm_source=tw&fbclid=1", SourceID: "b"}))
}

func TestCheck_Kinds(t *testing.T) {
	d, _ := newTestDedup(DefaultConfig())
	base := model.CandidateItem{URL: "https://a.example/1", Body: longBody(40)}

	first := d.Check(base)
	assert.Equal(t, KindNew, first.Kind)
	assert.True(t, first.IsNew())

	exact := d.Check(base)
	assert.Equal(t, KindExact, exact.Kind)
	assert.Equal(t, first.Key, exact.Key)

	rehosted := model.CandidateItem{URL: "https://b.example/copy", Body: longBody(40, 3, 17)}
	fuzzy := d.Check(rehosted)
	assert.Equal(t, KindFuzzy, fuzzy.Kind)
	assert.InDelta(t, 38.0/40.0, fuzzy.Similarity, 1e-9)

	// Fuzzy duplicates are not recorded, so repeating stays a fuzzy hit.
	assert.Equal(t, KindFuzzy, d.Check(rehosted).Kind)
	assert.Equal(t, 1, d.Stats().SeenEntries)
}

func TestCheck_FuzzyBelowThresholdIsNew(t *testing.T) {
	d, _ := newTestDedup(DefaultConfig())
	require.True(t, d.IsNew(model.CandidateItem{URL: "https://a.example/1", Body: longBody(40)}))

	// 10 of 40 words replaced: overlap 0.75.
	changed := longBody(40, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	assert.True(t, d.IsNew(model.CandidateItem{URL: "https://b.example/2", Body: changed}))
}

func TestCheck_FuzzyIgnoresShortItems(t *testing.T) {
	d, _ := newTestDedup(DefaultConfig())
	require.True(t, d.IsNew(model.CandidateItem{URL: "https://a.example/1", Body: "Monad TGE is live now"}))
	assert.True(t, d.IsNew(model.CandidateItem{URL: "https://b.example/1", Body: "Monad TGE is live now"}))
	assert.Equal(t, 0, d.Stats().FuzzyEntries)
}

func TestCheck_FuzzyEntriesExpire(t *testing.T) {
	d, clock := newTestDedup(DefaultConfig())
	require.True(t, d.IsNew(model.CandidateItem{URL: "https://a.example/1", Body: longBody(40)}))

	clock.Advance(31 * 24 * time.Hour)
	assert.True(t, d.IsNew(model.CandidateItem{URL: "https://b.example/1", Body: longBody(40)}))

	res := d.Evict()
	assert.Equal(t, 1, res.Fuzzy)
	assert.Equal(t, 1, d.Stats().FuzzyEntries)
}

func TestCheck_FuzzyScanLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FuzzyScanLimit = 2
	d, clock := newTestDedup(cfg)

	require.True(t, d.IsNew(model.CandidateItem{URL: "https://a.example/0", Body: longBody(40)}))
	for i := 1; i <= 3; i++ {
		clock.Advance(time.Minute)
		require.True(t, d.IsNew(model.CandidateItem{URL: fmt.Sprintf("https://a.example/%d", i), Body: distinctBody(i, 40)}))
	}

	// The original is beyond the two newest entries, so a near copy under
	// a new URL is not caught.
	assert.True(t, d.IsNew(model.CandidateItem{URL: "https://c.example/copy", Body: longBody(40, 39)}))
}

func distinctBody(set, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("set%dword%03d", set, i)
	}
	return strings.Join(words, " ")
}

func TestCapEvictsOldestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	d, clock := newTestDedup(cfg)

	for i := 0; i < 5; i++ {
		require.True(t, d.IsNew(urlItem(i)))
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, d.Stats().SeenEntries)

	snap := d.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, Key(urlItem(2)), snap[0].Key)
	assert.Equal(t, Key(urlItem(4)), snap[2].Key)

	// Evicted keys are new again.
	assert.True(t, d.IsNew(urlItem(0)))
}

func TestEvict_Retention(t *testing.T) {
	d, clock := newTestDedup(DefaultConfig())
	require.True(t, d.IsNew(urlItem(1)))
	clock.Advance(60 * 24 * time.Hour)
	require.True(t, d.IsNew(urlItem(2)))
	clock.Advance(31 * 24 * time.Hour)

	res := d.Evict()
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 0, res.Trimmed)

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, Key(urlItem(2)), snap[0].Key)
}

func TestSnapshotRestore(t *testing.T) {
	d, clock := newTestDedup(DefaultConfig())
	for i := 0; i < 3; i++ {
		require.True(t, d.IsNew(urlItem(i)))
		clock.Advance(time.Hour)
	}
	snap := d.Snapshot()

	restored, clock2 := newTestDedup(DefaultConfig())
	clock2.now = clock.now
	restored.Restore(snap)

	assert.Equal(t, snap, restored.Snapshot())
	for i := 0; i < 3; i++ {
		assert.False(t, restored.IsNew(urlItem(i)))
	}
	assert.True(t, restored.IsNew(urlItem(3)))
}

func TestRestore_DropsExpiredAndOverCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	d, clock := newTestDedup(cfg)

	entries := []model.SeenEntry{
		{Key: "old", SeenAt: clock.now.Add(-100 * 24 * time.Hour)},
		{Key: "a", SeenAt: clock.now.Add(-3 * time.Hour)},
		{Key: "c", SeenAt: clock.now.Add(-1 * time.Hour)},
		{Key: "b", SeenAt: clock.now.Add(-2 * time.Hour)},
		{Key: "", SeenAt: clock.now},
	}
	d.Restore(entries)

	snap := d.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Key)
	assert.Equal(t, "c", snap[1].Key)
}

func TestIsNew_ConcurrentSameItem(t *testing.T) {
	d := New(DefaultConfig())
	it := urlItem(42)

	var newCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.IsNew(it) {
				newCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), newCount.Load())
}

func TestSeenSet_AddKeepsFirstTimestamp(t *testing.T) {
	s := NewSeenSet()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, s.Add("k", t0))
	assert.False(t, s.Add("k", t0.Add(time.Hour)))
	assert.Equal(t, t0, s.Oldest())
	assert.Equal(t, 0, s.TrimTo(0))
}

func TestOverlap(t *testing.T) {
	set := func(words ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, w := range words {
			m[w] = struct{}{}
		}
		return m
	}
	assert.InDelta(t, 1.0, overlap(set("a", "b"), set("b", "a")), 1e-9)
	assert.InDelta(t, 0.5, overlap(set("a", "b"), set("a", "b", "c", "d")), 1e-9)
	assert.InDelta(t, 0.0, overlap(set(), set()), 1e-9)
}

func TestNamespaces_Independent(t *testing.T) {
	ns := NewNamespaces(DefaultConfig())
	it := urlItem(1)

	assert.True(t, ns.Get("alpha").IsNew(it))
	assert.True(t, ns.Get("beta").IsNew(it))
	assert.False(t, ns.Get("alpha").IsNew(it))
	assert.Same(t, ns.Get(""), ns.Get(DefaultNamespace))
	assert.Equal(t, []string{"alpha", "beta", DefaultNamespace}, ns.Names())

	stats := ns.AllStats()
	assert.Equal(t, 1, stats["alpha"].SeenEntries)
	assert.Len(t, ns.EvictAll(), 3)
}
