package domain

import (
	"encoding/json"
	"time"
)

// AuditEventType names a recorded state transition
type AuditEventType string

const (
	AuditOfferCreated        AuditEventType = "offer_created"
	AuditOfferNotified       AuditEventType = "offer_notified"
	AuditOfferAccepted       AuditEventType = "offer_accepted"
	AuditOfferExpired        AuditEventType = "offer_expired"
	AuditOfferCancelled      AuditEventType = "offer_cancelled"
	AuditJobAssigned         AuditEventType = "job_assigned"
	AuditJobUnassigned       AuditEventType = "job_unassigned"
	AuditJobStatusChanged    AuditEventType = "job_status_changed"
	AuditManualOverride      AuditEventType = "manual_override"
	AuditEscalationTriggered AuditEventType = "escalation_triggered"
	AuditEscalationExhausted AuditEventType = "escalation_exhausted"
)

// AuditEvent is one append-only audit row
type AuditEvent struct {
	ID            string          `json:"event_id"`
	Type          AuditEventType  `json:"event_type"`
	JobID         string          `json:"job_id,omitempty"`
	OfferID       string          `json:"offer_id,omitempty"`
	StaffID       string          `json:"staff_id,omitempty"`
	Actor         string          `json:"actor"`
	AttemptNumber int             `json:"attempt_number,omitempty"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// AuditFilter narrows an audit query. Zero values are ignored.
type AuditFilter struct {
	JobID   string
	OfferID string
	StaffID string
	From    time.Time
	To      time.Time
	Limit   int
}

// WithDetail marshals v into the event detail; marshal failures leave the detail empty
func (e AuditEvent) WithDetail(v any) AuditEvent {
	if raw, err := json.Marshal(v); err == nil {
		e.Detail = raw
	}
	return e
}
