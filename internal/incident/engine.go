// Package incident implements the automation/escalation layer (C9):
// it turns health alerts into severity-classified, cooldown-suppressed
// Incidents and fires a signed webhook so an external automation
// system (n8n) can execute the corrective action. Ported from the
// original gateway's cto_agent.py, including its priority-ordered
// substring matching for severity and corrective action.
package incident

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"otp-gateway/internal/observability"
)

// Severity is the closed set of alert severities reported to n8n.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Action is a predefined corrective action n8n can execute.
type Action string

const (
	ActionRestartNetworkSwitch  Action = "restart_network_switch"
	ActionRestartGatewayNode    Action = "restart_gateway_node"
	ActionSendPushNotification  Action = "send_push_notification"
	ActionSendEscalationEmail   Action = "send_escalation_email"
	ActionDrainMessageQueue     Action = "drain_message_queue"
	ActionLogIncident           Action = "log_incident"
	ActionNoAction              Action = "no_action"
)

// Incident is the record of one detected issue and the action chosen
// for it.
type Incident struct {
	IncidentID          string   `json:"incident_id"`
	AlertType           string   `json:"alert_type"`
	Severity            Severity `json:"severity"`
	Issues              []string `json:"issues"`
	Action              Action   `json:"action"`
	Timestamp           float64  `json:"timestamp"`
	WebhookSent         bool     `json:"webhook_sent"`
	WebhookResponseCode int      `json:"webhook_response_code"`
	Resolved            bool     `json:"resolved"`
}

const maxIncidents = 100

// Config configures an Engine.
type Config struct {
	WebhookURL      string
	WebhookSecret   string
	CooldownSeconds int
}

func (c Config) withDefaults() Config {
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 300
	}
	return c
}

// Engine evaluates health alerts, enforces per-alert-type cooldowns,
// and dispatches signed webhooks.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
	client  *http.Client

	mu             sync.Mutex
	lastAlertTime  map[string]time.Time
	incidents      []Incident
	totalAlerts    int64
	totalSuppressed int64
}

// New builds an Engine.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:           cfg.withDefaults(),
		logger:        logger,
		metrics:       metrics,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		lastAlertTime: make(map[string]time.Time),
	}
}

// TriggerAlert processes a health alert: checks cooldown, classifies
// severity and action, records and fires the webhook. Returns nil if
// the alert was suppressed by cooldown.
func (e *Engine) TriggerAlert(ctx context.Context, alertType string, issues []string, report any) *Incident {
	e.mu.Lock()
	e.totalAlerts++
	now := time.Now()
	last, seen := e.lastAlertTime[alertType]
	cooldown := time.Duration(e.cfg.CooldownSeconds) * time.Second

	if seen && now.Sub(last) < cooldown {
		e.totalSuppressed++
		remaining := cooldown - now.Sub(last)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.AlertsTotal.Inc()
			e.metrics.SuppressedTotal.Inc()
		}
		if e.logger != nil {
			e.logger.Info("incident: alert suppressed by cooldown", zap.String("alert_type", alertType), zap.Duration("remaining", remaining))
		}
		return nil
	}

	e.lastAlertTime[alertType] = now
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.AlertsTotal.Inc()
	}

	severity := evaluateSeverity(alertType, issues)
	action := determineAction(issues)

	incident := Incident{
		IncidentID: generateIncidentID(alertType, now),
		AlertType:  alertType,
		Severity:   severity,
		Issues:     issues,
		Action:     action,
		Timestamp:  float64(now.Unix()),
	}

	if e.logger != nil {
		e.logger.Warn("incident created",
			zap.String("incident_id", incident.IncidentID),
			zap.String("severity", string(severity)),
			zap.String("action", string(action)),
			zap.String("issues", strings.Join(firstN(issues, 3), "; ")))
	}

	if e.cfg.WebhookURL != "" {
		e.sendWebhook(ctx, &incident, report)
	} else if e.logger != nil {
		e.logger.Warn("incident: no webhook url configured — logged only", zap.String("incident_id", incident.IncidentID))
	}

	e.recordIncident(incident)
	return &incident
}

func (e *Engine) recordIncident(incident Incident) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.incidents = append(e.incidents, incident)
	if len(e.incidents) > maxIncidents {
		e.incidents = e.incidents[len(e.incidents)-maxIncidents:]
	}
}

// Incidents returns up to limit of the most recent incidents.
func (e *Engine) Incidents(limit int) []Incident {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.incidents) {
		limit = len(e.incidents)
	}
	out := make([]Incident, limit)
	copy(out, e.incidents[len(e.incidents)-limit:])
	return out
}

// evaluateSeverity maps alert type and issue text to a Severity. The
// checks are priority-ordered substring matches over the lower-cased,
// space-joined issue list — exact order matters and must not be
// reshuffled.
func evaluateSeverity(alertType string, issues []string) Severity {
	text := strings.ToLower(strings.Join(issues, " "))

	switch {
	case strings.Contains(text, "heartbeat timeout"):
		return SeverityCritical
	case strings.Contains(text, "battery") && strings.Contains(text, "low"):
		return SeverityWarning
	case strings.Contains(text, "queue near capacity"):
		return SeverityEmergency
	case alertType == "critical":
		return SeverityCritical
	case alertType == "degraded":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// determineAction is the priority-ordered substring match choosing a
// corrective action — the "brain" of the engine.
func determineAction(issues []string) Action {
	text := strings.ToLower(strings.Join(issues, " "))

	switch {
	case strings.Contains(text, "heartbeat timeout"):
		return ActionRestartNetworkSwitch
	case strings.Contains(text, "queue near capacity"):
		return ActionDrainMessageQueue
	case strings.Contains(text, "battery low"):
		return ActionSendPushNotification
	case strings.Contains(text, "signal weak"):
		return ActionRestartNetworkSwitch
	case strings.Contains(text, "watchdog resets"):
		return ActionRestartGatewayNode
	default:
		return ActionLogIncident
	}
}

func generateIncidentID(alertType string, ts time.Time) string {
	raw := fmt.Sprintf("%s:%v", alertType, float64(ts.Unix()))
	sum := md5.Sum([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:12])
}

func (e *Engine) sendWebhook(ctx context.Context, incident *Incident, report any) {
	payload := map[string]any{
		"event":        "gateway_alert",
		"incident":     incident,
		"health_report": report,
		"metadata": map[string]any{
			"gateway_version":  "1.0.0",
			"total_alerts":     e.alertsSnapshot(),
			"total_suppressed": e.suppressedSnapshot(),
		},
	}

	body, err := canonicalJSON(payload)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("incident: webhook payload encode failed", zap.Error(err))
		}
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		if e.logger != nil {
			e.logger.Error("incident: webhook request build failed", zap.Error(err))
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Event", "alert")
	req.Header.Set("X-Incident-ID", incident.IncidentID)

	if e.cfg.WebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(e.cfg.WebhookSecret))
		mac.Write(body)
		req.Header.Set("X-Webhook-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.WebhookErrors.Inc()
		}
		if e.logger != nil {
			e.logger.Error("incident: webhook failed", zap.String("incident_id", incident.IncidentID), zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	incident.WebhookSent = true
	incident.WebhookResponseCode = resp.StatusCode
	if e.metrics != nil {
		e.metrics.WebhooksSent.Inc()
	}

	if resp.StatusCode == http.StatusOK {
		if e.logger != nil {
			e.logger.Info("incident: webhook delivered", zap.String("incident_id", incident.IncidentID), zap.String("action", string(incident.Action)))
		}
		return
	}
	if e.logger != nil {
		e.logger.Error("incident: webhook non-200 response", zap.String("incident_id", incident.IncidentID), zap.Int("status", resp.StatusCode))
	}
}

func (e *Engine) alertsSnapshot() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalAlerts
}

func (e *Engine) suppressedSnapshot() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalSuppressed
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
