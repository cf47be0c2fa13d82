package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/config"
	"github.com/sells-group/tge-sentinel/internal/dedup"
	"github.com/sells-group/tge-sentinel/internal/metrics"
	"github.com/sells-group/tge-sentinel/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(nil, nil, stubCheckpoint(0)), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(nil, nil, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckUpdatesMetricsAndAlerts(t *testing.T) {
	ns := dedup.NewNamespaces(dedup.DefaultConfig())
	ns.Get("default").IsNew(model.CandidateItem{URL: "https://a.example/1"})

	m := metrics.New(prometheus.NewRegistry())
	checker := NewChecker(NewCollector(ns, nil, stubCheckpoint(3)), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{}).
		WithMetrics(m)

	alerts := checker.Check(context.Background(), zap.NewNop())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCheckpointFailure, alerts[0].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SeenEntries.WithLabelValues("default")))
}
