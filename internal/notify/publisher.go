package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/google/uuid"
)

const contentTypeJSON = "application/json"

// MessagePublisher is satisfied by *rabbitmq.Client
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher implements the engine's notification port on top of RabbitMQ
type Publisher struct {
	broker MessagePublisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewPublisher creates a new Publisher
func NewPublisher(broker MessagePublisher, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// NotifyStaff announces an offer to one eligible staff member
func (p *Publisher) NotifyStaff(ctx context.Context, staffID string, offer *domain.Offer, job *domain.Job) error {
	return p.publish(ctx, &Envelope{
		Kind:    KindOfferCreated,
		StaffID: staffID,
		Job:     job,
		Offer:   offer,
		Attempt: offer.AttemptNumber,
	})
}

// NotifyManager alerts the property manager about an escalation
func (p *Publisher) NotifyManager(ctx context.Context, job *domain.Job, attempt int, reason string) error {
	return p.publish(ctx, &Envelope{
		Kind:    KindManagerAlert,
		Job:     job,
		Attempt: attempt,
		Reason:  reason,
	})
}

// JobAssigned tells downstream systems a job has an owner
func (p *Publisher) JobAssigned(ctx context.Context, job *domain.Job) error {
	return p.publish(ctx, &Envelope{
		Kind:    KindJobAssigned,
		StaffID: job.AssignedStaffID(),
		Job:     job,
	})
}

// JobStatusChanged tells downstream systems about any other status change
func (p *Publisher) JobStatusChanged(ctx context.Context, job *domain.Job, from domain.JobStatus) error {
	return p.publish(ctx, &Envelope{
		Kind:       KindJobStatusChanged,
		StaffID:    job.AssignedStaffID(),
		Job:        job,
		FromStatus: from,
	})
}

func (p *Publisher) publish(ctx context.Context, env *Envelope) error {
	env.ID = p.newID()
	env.OccurredAt = p.now().UTC()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", env.Kind, err)
	}

	if err := p.broker.PublishWithRetry(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", env.Kind, err)
	}

	p.logger.Debug("Notification published",
		slog.String("kind", string(env.Kind)),
		slog.String("job_id", env.Job.ID),
		slog.String("staff_id", env.StaffID),
	)
	return nil
}
