// Package metrics exposes Prometheus counters and gauges for classification,
// deduplication, source health and checkpointing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "tge"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ItemsClassified    *prometheus.CounterVec
	Matches            *prometheus.CounterVec
	Duplicates         *prometheus.CounterVec
	AlertsEmitted      *prometheus.CounterVec
	SourceOutcomes     *prometheus.CounterVec
	CircuitTransitions *prometheus.CounterVec
	OpenSources        prometheus.Gauge
	SeenEntries        *prometheus.GaugeVec
	CheckpointFailures prometheus.Counter
	CheckpointDuration prometheus.Histogram
}

// New creates and registers all metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ItemsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "items_classified_total",
			Help:      "Items classified, by winning strategy",
		}, []string{"strategy"}),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "matches_total",
			Help:      "Items that matched at or above the alert threshold, by priority tier",
		}, []string{"priority"}),
		Duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "duplicates_total",
			Help:      "Matched items suppressed as duplicates",
		}, []string{"kind"}),
		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts handed to the sink, by dedup namespace",
		}, []string{"namespace"}),
		SourceOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "source_fetches_total",
			Help:      "Source fetch outcomes",
		}, []string{"result", "class"}),
		CircuitTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "circuit_transitions_total",
			Help:      "Source circuit state transitions, by target state",
		}, []string{"to"}),
		OpenSources: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sources_open",
			Help:      "Sources whose circuit is currently open",
		}),
		SeenEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "seen_entries",
			Help:      "Entries in the exact seen-set, by dedup namespace",
		}, []string{"namespace"}),
		CheckpointFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "checkpoint_failures_total",
			Help:      "Checkpoint flushes that failed after retries",
		}),
		CheckpointDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Duration of checkpoint flushes",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

// ObserveClassification counts one classified item.
func (m *Metrics) ObserveClassification(strategy string) {
	if m == nil {
		return
	}
	m.ItemsClassified.WithLabelValues(strategy).Inc()
}

// ObserveMatch counts one alertable match.
func (m *Metrics) ObserveMatch(priority string) {
	if m == nil {
		return
	}
	if priority == "" {
		priority = "none"
	}
	m.Matches.WithLabelValues(priority).Inc()
}

// ObserveDuplicate counts one suppressed duplicate of the given kind.
func (m *Metrics) ObserveDuplicate(kind string) {
	if m == nil {
		return
	}
	m.Duplicates.WithLabelValues(kind).Inc()
}

// ObserveAlert counts one emitted alert.
func (m *Metrics) ObserveAlert(namespace string) {
	if m == nil {
		return
	}
	m.AlertsEmitted.WithLabelValues(namespace).Inc()
}

// ObserveSourceOutcome counts one fetch outcome. class is empty on success.
func (m *Metrics) ObserveSourceOutcome(success bool, class string) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
		class = "none"
	}
	m.SourceOutcomes.WithLabelValues(result, class).Inc()
}

// ObserveCircuitTransition counts one circuit transition into state to.
func (m *Metrics) ObserveCircuitTransition(to string) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(to).Inc()
}

// SetOpenSources sets the open-circuit gauge.
func (m *Metrics) SetOpenSources(n int) {
	if m == nil {
		return
	}
	m.OpenSources.Set(float64(n))
}

// SetSeenEntries sets the seen-set size gauge for namespace.
func (m *Metrics) SetSeenEntries(namespace string, n int) {
	if m == nil {
		return
	}
	m.SeenEntries.WithLabelValues(namespace).Set(float64(n))
}

// ObserveCheckpoint records one checkpoint flush.
func (m *Metrics) ObserveCheckpoint(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.CheckpointDuration.Observe(d.Seconds())
	if err != nil {
		m.CheckpointFailures.Inc()
	}
}
