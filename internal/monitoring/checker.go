package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/config"
	"github.com/sells-group/tge-sentinel/internal/metrics"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	metrics   *metrics.Metrics
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// WithMetrics makes each check refresh the health gauges.
func (c *Checker) WithMetrics(m *metrics.Metrics) *Checker {
	c.metrics = m
	return c
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot, evaluates it and sends any alerts. It
// returns the triggered alerts.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap := c.collector.Collect()

	c.metrics.SetOpenSources(snap.OpenSources)
	for ns, n := range snap.SeenEntries {
		c.metrics.SetSeenEntries(ns, n)
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
