// Package notify turns engine side effects into notification envelopes and
// publishes them to RabbitMQ for the delivery worker.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

// Kind identifies what an envelope announces
type Kind string

const (
	KindOfferCreated     Kind = "offer_created"
	KindManagerAlert     Kind = "manager_alert"
	KindJobAssigned      Kind = "job_assigned"
	KindJobStatusChanged Kind = "job_status_changed"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindOfferCreated, KindManagerAlert, KindJobAssigned, KindJobStatusChanged:
		return true
	}
	return false
}

// Envelope is the message body carried on the notification queue
type Envelope struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	StaffID    string           `json:"staff_id,omitempty"`
	Job        *domain.Job      `json:"job"`
	Offer      *domain.Offer    `json:"offer,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	FromStatus domain.JobStatus `json:"from_status,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Validate checks the fields a delivery needs
func (e *Envelope) Validate() error {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(e.ID) == "" {
		verr.Add("id", "is required")
	}
	if !e.Kind.Valid() {
		verr.Add("kind", "is unknown")
	}
	if e.Job == nil || e.Job.ID == "" {
		verr.Add("job", "is required")
	}
	if e.Kind == KindOfferCreated {
		if e.StaffID == "" {
			verr.Add("staff_id", "is required for offer notifications")
		}
		if e.Offer == nil {
			verr.Add("offer", "is required for offer notifications")
		}
	}
	return verr.OrNil()
}

// DecodeEnvelope parses and validates a queue message body
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
