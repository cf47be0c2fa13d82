package dedup

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/textprep"
)

// FuzzyCache holds word sets of recently emitted substantial items so
// reworded or re-hosted copies of the same announcement can be caught.
// Entries expire by age only. Not safe for concurrent use.
type FuzzyCache struct {
	// entries is ordered by insertion, newest last.
	entries []*fuzzyEntry
	byHash  map[string]*fuzzyEntry
}

type fuzzyEntry struct {
	hash   string
	words  map[string]struct{}
	seenAt time.Time
}

// NewFuzzyCache returns an empty cache.
func NewFuzzyCache() *FuzzyCache {
	return &FuzzyCache{byHash: make(map[string]*fuzzyEntry)}
}

// Len returns the number of cached word sets.
func (c *FuzzyCache) Len() int { return len(c.entries) }

// Add stores words under their content hash. Re-adding a hash points it at
// the new entry; the older one stays until it expires.
func (c *FuzzyCache) Add(words map[string]struct{}, seenAt time.Time) {
	hash := wordSetHash(words)
	e := &fuzzyEntry{hash: hash, words: words, seenAt: seenAt}
	c.entries = append(c.entries, e)
	c.byHash[hash] = e
}

// Nearest scans at most limit of the newest entries not older than
// notBefore and returns the highest similarity found with words.
func (c *FuzzyCache) Nearest(words map[string]struct{}, notBefore time.Time, limit int) float64 {
	if len(words) == 0 {
		return 0
	}
	if e, ok := c.byHash[wordSetHash(words)]; ok && !e.seenAt.Before(notBefore) {
		return 1
	}

	best := 0.0
	scanned := 0
	for i := len(c.entries) - 1; i >= 0; i-- {
		if limit > 0 && scanned >= limit {
			break
		}
		e := c.entries[i]
		if e.seenAt.Before(notBefore) {
			continue
		}
		scanned++
		if sim := overlap(words, e.words); sim > best {
			best = sim
		}
	}
	return best
}

// ExpireBefore drops entries seen strictly before cutoff.
func (c *FuzzyCache) ExpireBefore(cutoff time.Time) int {
	kept := c.entries[:0]
	removed := 0
	for _, e := range c.entries {
		if e.seenAt.Before(cutoff) {
			if c.byHash[e.hash] == e {
				delete(c.byHash, e.hash)
			}
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = nil
	}
	c.entries = kept
	return removed
}

// wordSet returns the distinct normalized words among the first maxWords
// words of the item's title and body.
func wordSet(item model.CandidateItem, maxWords int) map[string]struct{} {
	words := textprep.Words(item.Text())
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// overlap is |A∩B| / max(|A|,|B|).
func overlap(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	if len(large) == 0 {
		return 0
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(large))
}

func wordSetHash(words map[string]struct{}) string {
	sorted := make([]string, 0, len(words))
	for w := range words {
		sorted = append(sorted, w)
	}
	sort.Strings(sorted)
	return hashHex(strings.Join(sorted, " "))
}
