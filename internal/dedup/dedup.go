// Package dedup decides whether a candidate item has already been emitted,
// by exact fingerprint and by word-set similarity.
package dedup

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// Kind describes how an item was classified by Check.
type Kind string

const (
	// KindNew means the item had not been seen and is now recorded.
	KindNew Kind = "new"
	// KindExact means the item's key is already in the SeenSet.
	KindExact Kind = "exact"
	// KindFuzzy means a recent substantial item shares most of its words.
	KindFuzzy Kind = "fuzzy"
)

// Config controls retention and similarity matching.
type Config struct {
	// MaxEntries caps the SeenSet. Default: 50000.
	MaxEntries int

	// Retention is how long exact keys are kept. Default: 90 days.
	Retention time.Duration

	// FuzzyThreshold is the minimum word overlap for a near-duplicate.
	// Default: 0.85.
	FuzzyThreshold float64

	// FuzzyMinTokens is the distinct word count an item must exceed before
	// fuzzy matching applies. Default: 20.
	FuzzyMinTokens int

	// FuzzyMaxWords limits how many leading words form the word set.
	// Default: 200.
	FuzzyMaxWords int

	// FuzzyMaxAge is how long word sets stay in the FuzzyCache.
	// Default: 30 days.
	FuzzyMaxAge time.Duration

	// FuzzyScanLimit bounds how many recent entries are compared per item.
	// Default: 1000.
	FuzzyScanLimit int
}

// DefaultConfig returns the standard dedup settings.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     50_000,
		Retention:      90 * 24 * time.Hour,
		FuzzyThreshold: 0.85,
		FuzzyMinTokens: 20,
		FuzzyMaxWords:  200,
		FuzzyMaxAge:    30 * 24 * time.Hour,
		FuzzyScanLimit: 1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxEntries <= 0 {
		c.MaxEntries = def.MaxEntries
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		c.FuzzyThreshold = def.FuzzyThreshold
	}
	if c.FuzzyMinTokens <= 0 {
		c.FuzzyMinTokens = def.FuzzyMinTokens
	}
	if c.FuzzyMaxWords <= 0 {
		c.FuzzyMaxWords = def.FuzzyMaxWords
	}
	if c.FuzzyMaxAge <= 0 {
		c.FuzzyMaxAge = def.FuzzyMaxAge
	}
	if c.FuzzyScanLimit <= 0 {
		c.FuzzyScanLimit = def.FuzzyScanLimit
	}
	return c
}

// Decision is the outcome of Check.
type Decision struct {
	Key        string
	Kind       Kind
	Similarity float64
}

// IsNew reports whether the item should be emitted.
func (d Decision) IsNew() bool { return d.Kind == KindNew }

// Stats summarizes the current state.
type Stats struct {
	SeenEntries  int       `json:"seen_entries"`
	FuzzyEntries int       `json:"fuzzy_entries"`
	Oldest       time.Time `json:"oldest,omitempty"`
}

// EvictResult reports what an eviction pass removed.
type EvictResult struct {
	Expired int `json:"expired"`
	Trimmed int `json:"trimmed"`
	Fuzzy   int `json:"fuzzy"`
}

// Deduplicator owns one SeenSet and one FuzzyCache. All methods are safe
// for concurrent use; a check-and-insert is atomic.
type Deduplicator struct {
	cfg   Config
	mu    sync.Mutex
	seen  *SeenSet
	fuzzy *FuzzyCache

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates an empty Deduplicator.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{
		cfg:     cfg.withDefaults(),
		seen:    NewSeenSet(),
		fuzzy:   NewFuzzyCache(),
		nowFunc: time.Now,
	}
}

// IsNew returns true exactly once per distinct item: the first call records
// the item and later calls with the same or a near-identical item return
// false.
func (d *Deduplicator) IsNew(item model.CandidateItem) bool {
	return d.Check(item).IsNew()
}

// Check classifies item as new, an exact duplicate or a fuzzy duplicate.
// New items are recorded before Check returns.
func (d *Deduplicator) Check(item model.CandidateItem) Decision {
	key := Key(item)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen.Has(key) {
		return Decision{Key: key, Kind: KindExact, Similarity: 1}
	}

	now := d.nowFunc()
	words := wordSet(item, d.cfg.FuzzyMaxWords)
	substantial := len(words) > d.cfg.FuzzyMinTokens
	if substantial {
		sim := d.fuzzy.Nearest(words, now.Add(-d.cfg.FuzzyMaxAge), d.cfg.FuzzyScanLimit)
		if sim >= d.cfg.FuzzyThreshold {
			return Decision{Key: key, Kind: KindFuzzy, Similarity: sim}
		}
	}

	d.seen.Add(key, now)
	d.seen.TrimTo(d.cfg.MaxEntries)
	if substantial {
		d.fuzzy.Add(words, now)
	}
	return Decision{Key: key, Kind: KindNew}
}

// Evict drops exact keys older than the retention window, trims the
// SeenSet to its cap oldest-first and expires aged word sets.
func (d *Deduplicator) Evict() EvictResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	var res EvictResult
	res.Expired = d.seen.ExpireBefore(now.Add(-d.cfg.Retention))
	res.Trimmed = d.seen.TrimTo(d.cfg.MaxEntries)
	res.Fuzzy = d.fuzzy.ExpireBefore(now.Add(-d.cfg.FuzzyMaxAge))
	return res
}

// Snapshot returns the SeenSet ordered oldest first. The FuzzyCache is not
// part of the snapshot.
func (d *Deduplicator) Snapshot() []model.SeenEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Entries()
}

// Restore replaces the SeenSet with entries and clears the FuzzyCache.
// Entries beyond the retention window or the cap are dropped.
func (d *Deduplicator) Restore(entries []model.SeenEntry) {
	sorted := append([]model.SeenEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SeenAt.Before(sorted[j].SeenAt) })

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = NewSeenSet()
	d.fuzzy = NewFuzzyCache()
	for _, e := range sorted {
		if e.Key == "" {
			continue
		}
		d.seen.Add(e.Key, e.SeenAt)
	}
	d.seen.ExpireBefore(d.nowFunc().Add(-d.cfg.Retention))
	d.seen.TrimTo(d.cfg.MaxEntries)
}

// Stats returns current sizes.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		SeenEntries:  d.seen.Len(),
		FuzzyEntries: d.fuzzy.Len(),
		Oldest:       d.seen.Oldest(),
	}
}
