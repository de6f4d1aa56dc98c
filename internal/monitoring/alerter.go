package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/config"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertEstimatorFailureRate AlertType = "estimator_failure_rate"
	AlertCircuitOpen          AlertType = "circuit_open"
	AlertFlagBacklog          AlertType = "learning_flag_backlog"
	AlertAccuracyDrift        AlertType = "accuracy_drift"
)

// Minimum sample sizes before rate-based alerts fire.
const (
	minAttempts     = 5
	minMeasurements = 5
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
	retry  resilience.RetryPolicy
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryPolicy{
			Attempts:   3,
			Initial:    200 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if attempts := snap.Attempts(); attempts >= minAttempts && a.cfg.FailureRateThreshold > 0 &&
		snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEstimatorFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Prediction failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.Engine.Failures, attempts,
			),
			Details: map[string]any{
				"failure_rate":      snap.FailureRate,
				"threshold":         a.cfg.FailureRateThreshold,
				"vision_failures":   snap.Engine.VisionFailures,
				"geometry_failures": snap.Engine.GeometryFailures,
			},
			Timestamp: now,
		})
	}

	if open := snap.OpenBreakers(); len(open) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message:  fmt.Sprintf("Circuit open for backend(s): %s", strings.Join(open, ", ")),
			Details: map[string]any{
				"backends": open,
			},
			Timestamp: now,
		})
	}

	if s := snap.Store; s != nil {
		if a.cfg.OpenFlagThreshold > 0 && s.OpenFlags > a.cfg.OpenFlagThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFlagBacklog,
				Severity: "medium",
				Message: fmt.Sprintf(
					"%d learning flags awaiting measurement (threshold %d)",
					s.OpenFlags, a.cfg.OpenFlagThreshold,
				),
				Details: map[string]any{
					"open_flags": s.OpenFlags,
					"threshold":  a.cfg.OpenFlagThreshold,
				},
				Timestamp: now,
			})
		}
		if a.cfg.ErrorRateThreshold > 0 && s.ResolvedFlags >= minMeasurements &&
			s.MeanAbsPctError > a.cfg.ErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertAccuracyDrift,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Mean absolute error %.1f%% against %d measurements exceeds threshold %.1f%%",
					s.MeanAbsPctError*100, s.ResolvedFlags, a.cfg.ErrorRateThreshold*100,
				),
				Details: map[string]any{
					"mean_abs_pct_error": s.MeanAbsPctError,
					"measurements":       s.ResolvedFlags,
					"threshold":          a.cfg.ErrorRateThreshold,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts posts each alert to the webhook, retrying transient failures,
// and returns how many were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	var sent int
	for _, alert := range alerts {
		_, err := resilience.Retry(ctx, a.retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: alert not delivered",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// post sends one alert. 429 and 5xx responses are transient.
func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook"), 0)
	}
	_ = resp.Body.Close()

	switch {
	case resilience.IsTransientStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}
	return nil
}
