package audit

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventPublisher fires fire-and-forget notifications onto NATS
// subjects for external observability tooling — a side channel, never
// the operational queue.
type EventPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewEventPublisher connects to url. A nil *EventPublisher is valid
// and every Publish* call becomes a no-op — NATS is optional.
func NewEventPublisher(url string, logger *zap.Logger) (*EventPublisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &EventPublisher{conn: conn, logger: logger}, nil
}

// DeadLetterEvent is published whenever a message is captured into
// the dead-letter store.
type DeadLetterEvent struct {
	SMSID     string    `json:"sms_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishDeadLetter notifies subscribers of a dead-letter capture.
func (p *EventPublisher) PublishDeadLetter(smsID, reason string) {
	if p == nil {
		return
	}
	p.publish("gateway.dlo.captured", DeadLetterEvent{SMSID: smsID, Reason: reason, Timestamp: time.Now().UTC()})
}

// IncidentEvent is published whenever the incident engine creates an
// incident.
type IncidentEvent struct {
	IncidentID string    `json:"incident_id"`
	AlertType  string    `json:"alert_type"`
	Severity   string    `json:"severity"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishIncident notifies subscribers of a newly created incident.
func (p *EventPublisher) PublishIncident(incidentID, alertType, severity, action string) {
	if p == nil {
		return
	}
	p.publish("gateway.incident.created", IncidentEvent{
		IncidentID: incidentID,
		AlertType:  alertType,
		Severity:   severity,
		Action:     action,
		Timestamp:  time.Now().UTC(),
	})
}

func (p *EventPublisher) publish(subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("audit: event encode failed", zap.String("subject", subject), zap.Error(err))
		}
		return
	}
	if err := p.conn.Publish(subject, data); err != nil && p.logger != nil {
		p.logger.Error("audit: event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Close closes the NATS connection.
func (p *EventPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
