package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tge-sentinel/internal/model"
)

type transition struct {
	source   string
	from, to State
}

func newTestTracker(cfg Config) (*Tracker, *time.Time, *[]transition) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	var got []transition
	cfg.OnStateChange = func(id string, from, to State) {
		got = append(got, transition{id, from, to})
	}
	tr := NewTracker(cfg)
	tr.nowFunc = func() time.Time { return now }
	return tr, &now, &got
}

func TestTracker_OpensAfterThreeFailures(t *testing.T) {
	tr, _, transitions := newTestTracker(DefaultConfig())

	tr.RecordOutcome("feed", false, 0)
	tr.RecordOutcome("feed", false, 0)
	assert.True(t, tr.IsAvailable("feed"))

	tr.RecordOutcome("feed", false, 0)
	assert.False(t, tr.IsAvailable("feed"))
	assert.Equal(t, StateOpen, tr.State("feed"))
	assert.Equal(t, []transition{{"feed", StateClosed, StateOpen}}, *transitions)
}

func TestTracker_CooldownThenSuccessCloses(t *testing.T) {
	tr, now, transitions := newTestTracker(DefaultConfig())
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("feed", false, 0)
	}
	require.False(t, tr.IsAvailable("feed"))

	*now = now.Add(59 * time.Minute)
	assert.False(t, tr.IsAvailable("feed"), "still cooling down")

	*now = now.Add(time.Minute)
	tr.RecordOutcome("feed", true, 1)
	assert.True(t, tr.IsAvailable("feed"))

	rec, ok := tr.Record("feed")
	require.True(t, ok)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Nil(t, rec.CircuitOpenUntil)
	assert.Equal(t, 3, rec.FailureCount)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, []transition{
		{"feed", StateClosed, StateOpen},
		{"feed", StateOpen, StateClosed},
	}, *transitions)
}

func TestTracker_SuccessResetsConsecutiveFailures(t *testing.T) {
	tr, _, _ := newTestTracker(DefaultConfig())
	tr.RecordOutcome("feed", false, 0)
	tr.RecordOutcome("feed", false, 0)
	tr.RecordOutcome("feed", true, 0)
	tr.RecordOutcome("feed", false, 0)
	tr.RecordOutcome("feed", false, 0)
	assert.True(t, tr.IsAvailable("feed"))

	rec, _ := tr.Record("feed")
	assert.Equal(t, 2, rec.ConsecutiveFailures)
}

func TestTracker_OutcomesWhileOpenOnlyUpdateTotals(t *testing.T) {
	tr, now, _ := newTestTracker(DefaultConfig())
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("feed", false, 0)
	}
	openUntil := now.Add(time.Hour)

	*now = now.Add(30 * time.Minute)
	tr.RecordOutcome("feed", false, 0)
	tr.RecordOutcome("feed", true, 2)

	rec, _ := tr.Record("feed")
	require.NotNil(t, rec.CircuitOpenUntil)
	assert.Equal(t, openUntil, *rec.CircuitOpenUntil, "open window is not extended")
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.Equal(t, 4, rec.FailureCount)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, 2, rec.YieldCount)
	assert.False(t, tr.IsAvailable("feed"))
}

func TestTracker_UnknownSourceAvailable(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	assert.True(t, tr.IsAvailable("never-seen"))
	_, ok := tr.Record("never-seen")
	assert.False(t, ok)
	assert.InDelta(t, 0.5, tr.Score("never-seen"), 1e-9)
}

func TestTracker_Score(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		yield     int
		want      float64
	}{
		{"too few attempts", 2, 1, 2, 0.5},
		{"all success full yield", 5, 0, 5, 1.0},
		{"all success no yield", 5, 0, 0, 0.3},
		{"half success", 5, 5, 0, 0.15},
		{"yield clamped", 5, 0, 50, 1.0},
		{"all failures", 0, 6, 0, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(Config{FailureThreshold: 100})
			for i := 0; i < tt.successes; i++ {
				y := 0
				if i == 0 {
					y = tt.yield
				}
				tr.RecordOutcome("s", true, y)
			}
			for i := 0; i < tt.failures; i++ {
				tr.RecordOutcome("s", false, 0)
			}
			assert.InDelta(t, tt.want, tr.Score("s"), 1e-9)
		})
	}
}

func TestTracker_RankForNextCycle(t *testing.T) {
	tr, _, _ := newTestTracker(DefaultConfig())

	// good: 5 successes with yield on each.
	for i := 0; i < 5; i++ {
		tr.RecordOutcome("good", true, 1)
	}
	// dull: 5 successes, no yield.
	for i := 0; i < 5; i++ {
		tr.RecordOutcome("dull", true, 0)
	}
	// broken: open circuit.
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("broken", false, 0)
	}

	got := tr.RankForNextCycle([]string{"dull", "broken", "new-a", "good", "new-b", "good"})
	assert.Equal(t, []string{"good", "new-a", "new-b", "dull"}, got)
}

func TestTracker_RankIncludesSourceAfterCooldown(t *testing.T) {
	tr, now, _ := newTestTracker(DefaultConfig())
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("flaky", false, 0)
	}
	assert.Empty(t, tr.RankForNextCycle([]string{"flaky"}))

	*now = now.Add(time.Hour)
	assert.Equal(t, []string{"flaky"}, tr.RankForNextCycle([]string{"flaky"}))
}

func TestTracker_SnapshotRestoreReset(t *testing.T) {
	tr, _, transitions := newTestTracker(DefaultConfig())
	tr.RecordOutcome("b", true, 1)
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("a", false, 0)
	}

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].SourceID)
	assert.Equal(t, "b", snap[1].SourceID)

	restored, _, _ := newTestTracker(DefaultConfig())
	restored.Restore(append(snap, model.SourceRecord{}))
	assert.Equal(t, snap, restored.Snapshot())
	assert.False(t, restored.IsAvailable("a"))

	open, total := restored.Counts()
	assert.Equal(t, 1, open)
	assert.Equal(t, 2, total)

	assert.True(t, tr.Reset("a"))
	assert.False(t, tr.Reset("a"))
	assert.True(t, tr.IsAvailable("a"))
	assert.Equal(t, transition{"a", StateOpen, StateClosed}, (*transitions)[len(*transitions)-1])
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr, _, _ := newTestTracker(DefaultConfig())
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("a", false, 0)
	}
	snap := tr.Snapshot()
	*snap[0].CircuitOpenUntil = time.Time{}
	snap[0].FailureCount = 99

	assert.False(t, tr.IsAvailable("a"))
	rec, _ := tr.Record("a")
	assert.Equal(t, 3, rec.FailureCount)
}

func TestTracker_NegativeYieldIgnored(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordOutcome("s", true, -4)
	rec, _ := tr.Record("s")
	assert.Equal(t, 0, rec.YieldCount)
}

func TestTracker_ConcurrentFailures(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	tr := NewTracker(Config{
		FailureThreshold: 3,
		OnStateChange: func(_ string, _, to State) {
			mu.Lock()
			defer mu.Unlock()
			if to == StateOpen {
				opens++
			}
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordOutcome("s", false, 0)
		}()
	}
	wg.Wait()

	assert.False(t, tr.IsAvailable("s"))
	rec, _ := tr.Record("s")
	assert.Equal(t, 50, rec.FailureCount)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.Equal(t, 1, opens)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
