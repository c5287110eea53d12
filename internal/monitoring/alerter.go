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

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDeadLetters AlertType = "dead_letters"
	AlertStaleLocks  AlertType = "stale_locks"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.DeadLetterThreshold > 0 && snap.DeadLettered >= a.cfg.DeadLetterThreshold {
		perStage := map[string]int{}
		for _, sc := range snap.Stages {
			if sc.DeadLetter > 0 {
				perStage[string(sc.Stage)] += sc.DeadLetter
			}
		}
		alerts = append(alerts, Alert{
			Type:     AlertDeadLetters,
			Severity: "high",
			Message: fmt.Sprintf("%d dead-lettered record(s), threshold %d",
				snap.DeadLettered, a.cfg.DeadLetterThreshold),
			Details: map[string]any{
				"dead_lettered": snap.DeadLettered,
				"threshold":     a.cfg.DeadLetterThreshold,
				"by_stage":      perStage,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleLockThreshold > 0 && snap.StaleLocked >= a.cfg.StaleLockThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStaleLocks,
			Severity: "medium",
			Message: fmt.Sprintf("%d record(s) held by stale claims, threshold %d",
				snap.StaleLocked, a.cfg.StaleLockThreshold),
			Details: map[string]any{
				"stale_locked": snap.StaleLocked,
				"locked":       snap.Locked,
				"threshold":    a.cfg.StaleLockThreshold,
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
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
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

// sendWebhook posts a single alert to the webhook URL. 429 and 5xx
// responses are transient.
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
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
