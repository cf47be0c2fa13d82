package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveClassification("high_confidence")
	m.ObserveClassification("high_confidence")
	m.ObserveClassification("none")
	m.ObserveMatch("")
	m.ObserveDuplicate("fuzzy")
	m.ObserveAlert("default")
	m.ObserveSourceOutcome(true, "")
	m.ObserveSourceOutcome(false, "transient")
	m.ObserveCircuitTransition("open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsClassified.WithLabelValues("high_confidence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsClassified.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Matches.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates.WithLabelValues("fuzzy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsEmitted.WithLabelValues("default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceOutcomes.WithLabelValues("success", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceOutcomes.WithLabelValues("failure", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitTransitions.WithLabelValues("open")))
}

func TestMetrics_GaugesAndCheckpoint(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetOpenSources(4)
	m.SetSeenEntries("social", 120)
	m.ObserveCheckpoint(10*time.Millisecond, nil)
	m.ObserveCheckpoint(20*time.Millisecond, errors.New("store: save seen: database is locked"))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.OpenSources))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.SeenEntries.WithLabelValues("social")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CheckpointDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveClassification("none")
		m.ObserveMatch("high")
		m.ObserveDuplicate("exact")
		m.ObserveAlert("default")
		m.ObserveSourceOutcome(false, "permanent")
		m.ObserveCircuitTransition("closed")
		m.SetOpenSources(1)
		m.SetSeenEntries("default", 1)
		m.ObserveCheckpoint(time.Second, nil)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
