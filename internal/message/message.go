// Package message defines the Message record (C1) that flows through the
// delivery pipeline, plus the redaction rules the zero-log discipline
// requires of every external serialization.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of lifecycle states a Message passes through.
type Status string

const (
	StatusQueued      Status = "Queued"
	StatusProcessing  Status = "Processing"
	StatusDelivered   Status = "Delivered"
	StatusFailed      Status = "Failed"
	StatusDeadLettered Status = "DeadLettered"
)

// Priority is the closed set of queue lanes a Message can occupy.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityNormal Priority = "Normal"
	PriorityLow    Priority = "Low"
)

// ParsePriority maps an ingress priority string to a Priority, defaulting
// to Normal for anything unrecognized.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	case "normal", "":
		return PriorityNormal
	default:
		return PriorityNormal
	}
}

// RedactedBody is substituted for Message.Body in every external
// serialization — API responses, logs, webhook payloads. Defined as a
// constant rather than a runtime redaction step so there is exactly one
// place in the codebase where the literal body can leak into a struct
// field meant for the outside world.
const RedactedBody = "[ENCRYPTED]"

// DefaultMaxRetries is the default retry budget.
const DefaultMaxRetries = 5

// Message is one SMS in flight through the pipeline. Ownership transfers
// on dequeue: only the worker currently holding a Message may mutate it.
type Message struct {
	SMSID      string    `json:"sms_id"`
	Sender     string    `json:"sender"`
	Body       string    `json:"-"` // never serialized directly; see Redacted
	Timestamp  string    `json:"timestamp"`
	NodeID     string    `json:"node_id"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  int64     `json:"created_at"`
	LastError  string    `json:"last_error"`
	Priority   Priority  `json:"priority"`
}

// New builds a Message from ingress fields, generating an sms_id if the
// caller did not supply one.
func New(smsID, sender, body, timestamp, nodeID string, priority Priority, maxRetries int) *Message {
	if smsID == "" {
		smsID = uuid.NewString()
	}
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Message{
		SMSID:      smsID,
		Sender:     sender,
		Body:       body,
		Timestamp:  timestamp,
		NodeID:     nodeID,
		Status:     StatusQueued,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().Unix(),
		Priority:   priority,
	}
}

// IsRetriable reports whether the message still has retry budget left.
func (m *Message) IsRetriable() bool {
	return m.RetryCount < m.MaxRetries
}

// View is the externally-observable projection of a Message: body is
// always the sentinel, regardless of what the in-flight Message holds.
type View struct {
	SMSID      string   `json:"sms_id"`
	Sender     string   `json:"sender"`
	Body       string   `json:"body"`
	Timestamp  string   `json:"timestamp"`
	NodeID     string   `json:"node_id"`
	Status     Status   `json:"status"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`
	CreatedAt  int64    `json:"created_at"`
	LastError  string   `json:"last_error"`
	Priority   Priority `json:"priority"`
}

// Redacted returns the View of m — safe to log or hand to an external
// observer; the raw body never appears in it.
func (m *Message) Redacted() View {
	return View{
		SMSID:      m.SMSID,
		Sender:     m.Sender,
		Body:       RedactedBody,
		Timestamp:  m.Timestamp,
		NodeID:     m.NodeID,
		Status:     m.Status,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		CreatedAt:  m.CreatedAt,
		LastError:  m.LastError,
		Priority:   m.Priority,
	}
}
