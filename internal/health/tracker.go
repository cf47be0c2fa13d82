// Package health tracks per-source fetch outcomes, trips a circuit breaker
// on persistently failing sources and orders sources for the next poll.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// State is the circuit state of a single source.
type State int

const (
	// StateClosed is normal polling.
	StateClosed State = iota
	// StateOpen means the source is skipped until its cooldown elapses.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config controls circuit and ranking behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 3.
	FailureThreshold int

	// Cooldown is how long an open circuit stays open. Default: 1h.
	Cooldown time.Duration

	// MinAttempts is the number of attempts below which a source gets
	// NeutralScore. Default: 5.
	MinAttempts int

	// NeutralScore is the ranking score of sources with too little history.
	// Default: 0.5.
	NeutralScore float64

	// SuccessWeight and YieldWeight weigh success rate and yield rate in the
	// ranking score. Defaults: 0.3 and 0.7.
	SuccessWeight float64
	YieldWeight   float64

	// OnStateChange is called when a source's circuit transitions. It runs
	// with the tracker locked and must not call back into the Tracker.
	OnStateChange func(sourceID string, from, to State)
}

// DefaultConfig returns the standard tracker settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         time.Hour,
		MinAttempts:      5,
		NeutralScore:     0.5,
		SuccessWeight:    0.3,
		YieldWeight:      0.7,
	}
}

// Tracker is the SourceHealthTracker. It owns one SourceRecord per observed
// source; all methods are safe for concurrent use.
type Tracker struct {
	cfg     Config
	mu      sync.Mutex
	records map[string]*model.SourceRecord

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MinAttempts <= 0 {
		cfg.MinAttempts = def.MinAttempts
	}
	if cfg.NeutralScore <= 0 || cfg.NeutralScore > 1 {
		cfg.NeutralScore = def.NeutralScore
	}
	if cfg.SuccessWeight == 0 && cfg.YieldWeight == 0 {
		cfg.SuccessWeight = def.SuccessWeight
		cfg.YieldWeight = def.YieldWeight
	}
	return &Tracker{
		cfg:     cfg,
		records: make(map[string]*model.SourceRecord),
		nowFunc: time.Now,
	}
}

// RecordOutcome records one fetch attempt. A success resets the
// consecutive-failure counter; the FailureThreshold-th consecutive failure
// opens the circuit for Cooldown. Outcomes reported while the circuit is
// open only update totals.
func (t *Tracker) RecordOutcome(sourceID string, success bool, yieldCount int) {
	if yieldCount < 0 {
		yieldCount = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	rec := t.record(sourceID)
	open := t.refresh(rec, now) == StateOpen

	if success {
		rec.SuccessCount++
		rec.YieldCount += yieldCount
		rec.LastSuccessAt = timePtr(now)
		if !open {
			rec.ConsecutiveFailures = 0
		}
		return
	}

	rec.FailureCount++
	rec.LastFailureAt = timePtr(now)
	if open {
		return
	}
	rec.ConsecutiveFailures++
	if rec.ConsecutiveFailures >= t.cfg.FailureThreshold {
		rec.CircuitOpenUntil = timePtr(now.Add(t.cfg.Cooldown))
		t.notify(sourceID, StateClosed, StateOpen)
	}
}

// IsAvailable reports whether sourceID may be polled. Unknown sources are
// available. An open circuit whose cooldown has elapsed closes here.
func (t *Tracker) IsAvailable(sourceID string) bool {
	return t.State(sourceID) == StateClosed
}

// State returns the current circuit state of sourceID.
func (t *Tracker) State(sourceID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sourceID]
	if !ok {
		return StateClosed
	}
	return t.refresh(rec, t.nowFunc())
}

// Score returns the ranking score of sourceID.
func (t *Tracker) Score(sourceID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.score(t.records[sourceID])
}

// RankForNextCycle returns sourceIDs without open sources and duplicates,
// sorted by descending score. Equal scores keep their input order.
func (t *Tracker) RankForNextCycle(sourceIDs []string) []string {
	type ranked struct {
		id    string
		score float64
	}

	t.mu.Lock()
	now := t.nowFunc()
	seen := make(map[string]struct{}, len(sourceIDs))
	candidates := make([]ranked, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rec := t.records[id]
		if rec != nil && t.refresh(rec, now) == StateOpen {
			continue
		}
		candidates = append(candidates, ranked{id: id, score: t.score(rec)})
	}
	t.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// Record returns a copy of the SourceRecord for sourceID.
func (t *Tracker) Record(sourceID string) (model.SourceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sourceID]
	if !ok {
		return model.SourceRecord{}, false
	}
	t.refresh(rec, t.nowFunc())
	return copyRecord(rec), true
}

// Reset forgets everything about sourceID. It reports whether a record
// existed.
func (t *Tracker) Reset(sourceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sourceID]
	if !ok {
		return false
	}
	if rec.CircuitOpenUntil != nil {
		t.notify(sourceID, StateOpen, StateClosed)
	}
	delete(t.records, sourceID)
	return true
}

// Snapshot returns copies of all records ordered by source ID.
func (t *Tracker) Snapshot() []model.SourceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	out := make([]model.SourceRecord, 0, len(t.records))
	for _, rec := range t.records {
		t.refresh(rec, now)
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Restore replaces all records with records. Records without a source ID
// are ignored.
func (t *Tracker) Restore(records []model.SourceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[string]*model.SourceRecord, len(records))
	for i := range records {
		if records[i].SourceID == "" {
			continue
		}
		rec := copyRecord(&records[i])
		t.records[rec.SourceID] = &rec
	}
}

// Counts returns the number of open sources and the number of tracked
// sources.
func (t *Tracker) Counts() (open, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	for _, rec := range t.records {
		if t.refresh(rec, now) == StateOpen {
			open++
		}
	}
	return open, len(t.records)
}

func (t *Tracker) record(sourceID string) *model.SourceRecord {
	rec, ok := t.records[sourceID]
	if !ok {
		rec = &model.SourceRecord{SourceID: sourceID}
		t.records[sourceID] = rec
	}
	return rec
}

// refresh closes rec's circuit if its cooldown has elapsed and returns the
// resulting state. Caller holds t.mu.
func (t *Tracker) refresh(rec *model.SourceRecord, now time.Time) State {
	if rec.CircuitOpenUntil == nil {
		return StateClosed
	}
	if now.Before(*rec.CircuitOpenUntil) {
		return StateOpen
	}
	rec.CircuitOpenUntil = nil
	rec.ConsecutiveFailures = 0
	t.notify(rec.SourceID, StateOpen, StateClosed)
	return StateClosed
}

func (t *Tracker) score(rec *model.SourceRecord) float64 {
	if rec == nil || rec.Attempts() < t.cfg.MinAttempts {
		return t.cfg.NeutralScore
	}
	successRate := float64(rec.SuccessCount) / float64(rec.Attempts())
	yieldRate := float64(rec.YieldCount) / float64(max(rec.SuccessCount, 1))
	yieldRate = min(max(yieldRate, 0), 1)
	return t.cfg.SuccessWeight*successRate + t.cfg.YieldWeight*yieldRate
}

func (t *Tracker) notify(sourceID string, from, to State) {
	if t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(sourceID, from, to)
	}
}

func copyRecord(rec *model.SourceRecord) model.SourceRecord {
	out := *rec
	out.CircuitOpenUntil = copyTime(rec.CircuitOpenUntil)
	out.LastSuccessAt = copyTime(rec.LastSuccessAt)
	out.LastFailureAt = copyTime(rec.LastFailureAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

func timePtr(t time.Time) *time.Time { return &t }
