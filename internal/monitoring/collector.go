package monitoring

import (
	"time"

	"github.com/sells-group/tge-sentinel/internal/dedup"
)

// Snapshot holds a point-in-time view of detector health.
type Snapshot struct {
	OpenSources        int            `json:"open_sources"`
	TotalSources       int            `json:"total_sources"`
	OpenSourceRatio    float64        `json:"open_source_ratio"`
	CheckpointFailures int            `json:"checkpoint_failures"`
	SeenEntries        map[string]int `json:"seen_entries"`
	FuzzyEntries       int            `json:"fuzzy_entries"`
	CollectedAt        time.Time      `json:"collected_at"`
}

// SourceCounter reports open and tracked source counts.
type SourceCounter interface {
	Counts() (open, total int)
}

// CheckpointStatus reports consecutive checkpoint failures.
type CheckpointStatus interface {
	ConsecutiveFailures() int
}

// Collector gathers a Snapshot from live components. Any component may be
// nil.
type Collector struct {
	namespaces *dedup.Namespaces
	sources    SourceCounter
	checkpoint CheckpointStatus

	nowFunc func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(namespaces *dedup.Namespaces, sources SourceCounter, checkpoint CheckpointStatus) *Collector {
	return &Collector{
		namespaces: namespaces,
		sources:    sources,
		checkpoint: checkpoint,
		nowFunc:    time.Now,
	}
}

// Collect reads the current state.
func (c *Collector) Collect() *Snapshot {
	snap := &Snapshot{
		SeenEntries: make(map[string]int),
		CollectedAt: c.nowFunc().UTC(),
	}

	if c.sources != nil {
		snap.OpenSources, snap.TotalSources = c.sources.Counts()
		if snap.TotalSources > 0 {
			snap.OpenSourceRatio = float64(snap.OpenSources) / float64(snap.TotalSources)
		}
	}
	if c.checkpoint != nil {
		snap.CheckpointFailures = c.checkpoint.ConsecutiveFailures()
	}
	if c.namespaces != nil {
		for name, st := range c.namespaces.AllStats() {
			snap.SeenEntries[name] = st.SeenEntries
			snap.FuzzyEntries += st.FuzzyEntries
		}
	}
	return snap
}
