package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCheckpointFailure AlertType = "checkpoint_failure"
	AlertSourcesDegraded   AlertType = "sources_degraded"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	if cfg.CheckpointFailureThreshold <= 0 {
		cfg.CheckpointFailureThreshold = 3
	}
	if cfg.MinSources <= 0 {
		cfg.MinSources = 3
	}
	if cfg.DegradedSourceRatio <= 0 {
		cfg.DegradedSourceRatio = 0.5
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.CheckpointFailures >= a.cfg.CheckpointFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCheckpointFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d consecutive checkpoint flushes failed; detector state is not being persisted",
				snap.CheckpointFailures,
			),
			Details: map[string]any{
				"consecutive_failures": snap.CheckpointFailures,
				"threshold":            a.cfg.CheckpointFailureThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.TotalSources >= a.cfg.MinSources && snap.OpenSourceRatio >= a.cfg.DegradedSourceRatio {
		alerts = append(alerts, Alert{
			Type:     AlertSourcesDegraded,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d sources (%.0f%%) have an open circuit",
				snap.OpenSources, snap.TotalSources, snap.OpenSourceRatio*100,
			),
			Details: map[string]any{
				"open_sources":  snap.OpenSources,
				"total_sources": snap.TotalSources,
				"threshold":     a.cfg.DegradedSourceRatio,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
