package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/eligibility"
	"github.com/cuongbtq/turnover-dispatch/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Expiry is the outcome of expiring one offer
type Expiry struct {
	Offer *domain.Offer
	Job   *domain.Job
	// Next is the follow-up offer, nil when none was opened
	Next      *domain.Offer
	Exhausted bool
}

// Resumption is the outcome of restarting escalation for a stranded job
type Resumption struct {
	Job *domain.Job
	// Offer is nil when no offer was opened
	Offer     *domain.Offer
	Exhausted bool
}

// resumeGrace keeps the sweep away from jobs whose offer is still being opened
const resumeGrace = time.Minute

// CreateOffer opens an offer for a pending job at attempt. An empty eligible set skips to
// the next attempt; past the last attempt the manager is alerted, the job stays pending and
// a nil offer is returned without error.
func (e *Engine) CreateOffer(ctx context.Context, job *domain.Job, attempt int, createdBy domain.Creator, actor string) (*domain.Offer, error) {
	offer, _, err := e.createOffer(ctx, job, attempt, createdBy, actor)
	return offer, err
}

func (e *Engine) createOffer(ctx context.Context, job *domain.Job, attempt int, createdBy domain.Creator, actor string) (*domain.Offer, *domain.Job, error) {
	if job.Status != domain.JobStatusPending {
		return nil, nil, &domain.InvalidTransitionError{Entity: "job", ID: job.ID, From: string(job.Status), To: string(domain.JobStatusOffered)}
	}
	if job.ActiveOfferID != "" {
		return nil, nil, domain.ErrJobHasOpenOffer
	}
	if attempt < 1 {
		attempt = 1
	}
	if actor == "" {
		actor = SystemActor
	}

	for ; attempt <= e.cfg.MaxAttempts; attempt++ {
		now := e.now()
		if !job.ScheduledStart.After(now) {
			e.exhaust(ctx, job, attempt, "job_started")
			return nil, job, nil
		}

		eligible, err := e.resolve(ctx, job, attempt)
		if err != nil {
			return nil, nil, err
		}

		if len(eligible) == 0 {
			e.logger.Warn("No eligible staff, escalating",
				slog.String("job_id", job.ID),
				slog.Int("attempt", attempt),
			)
			telemetry.EscalationsTriggered.WithLabelValues(strconv.Itoa(attempt)).Inc()
			e.record(ctx, domain.AuditEvent{
				Type:          domain.AuditEscalationTriggered,
				JobID:         job.ID,
				Actor:         actor,
				AttemptNumber: attempt,
			}.WithDetail(map[string]any{"reason": "no_eligible_staff"}))
			continue
		}

		offer := domain.NewOffer(e.newID(), job, eligible, attempt, createdBy, now, e.cfg.ExpiryWindow)
		updated, err := e.store.InsertOffer(ctx, offer)
		if err != nil {
			return nil, nil, err
		}

		telemetry.OffersCreated.WithLabelValues(strconv.Itoa(attempt), string(createdBy)).Inc()
		e.record(ctx, domain.AuditEvent{
			Type:          domain.AuditOfferCreated,
			JobID:         job.ID,
			OfferID:       offer.ID,
			Actor:         actor,
			AttemptNumber: attempt,
			OccurredAt:    now,
		}.WithDetail(map[string]any{
			"eligible_staff_ids": offer.EligibleStaffIDs,
			"expires_at":         offer.ExpiresAt,
			"created_by":         offer.CreatedBy,
		}))

		e.announce(ctx, offer, updated)
		return offer, updated, nil
	}

	e.exhaust(ctx, job, e.cfg.MaxAttempts, "no_eligible_staff")
	return nil, job, nil
}

func (e *Engine) resolve(ctx context.Context, job *domain.Job, attempt int) ([]string, error) {
	roster, err := e.staff.ListActiveStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff roster: %w", err)
	}
	busy, err := e.store.ListBusyWindows(ctx, job.ScheduledStart, job.ScheduledEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load busy windows: %w", err)
	}
	return e.resolver.Resolve(eligibility.Input{
		Job:     job,
		Attempt: attempt,
		Roster:  roster,
		Busy:    busy,
	}), nil
}

// announce notifies every snapshot member of a committed offer. Failures never reach the caller.
func (e *Engine) announce(ctx context.Context, offer *domain.Offer, job *domain.Job) {
	ctx = context.WithoutCancel(ctx)

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.NotifyConcurrency)
	for _, staffID := range offer.EligibleStaffIDs {
		g.Go(func() error {
			if err := e.notifier.NotifyStaff(gctx, staffID, offer, job); err != nil {
				failed.Add(1)
				telemetry.NotificationsSent.WithLabelValues("staff", "failed").Inc()
				e.logger.Error("Failed to notify staff",
					slog.String("offer_id", offer.ID),
					slog.String("staff_id", staffID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			delivered.Add(1)
			telemetry.NotificationsSent.WithLabelValues("staff", "sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	e.record(ctx, domain.AuditEvent{
		Type:          domain.AuditOfferNotified,
		JobID:         offer.JobID,
		OfferID:       offer.ID,
		Actor:         SystemActor,
		AttemptNumber: offer.AttemptNumber,
	}.WithDetail(map[string]int64{
		"recipients": int64(len(offer.EligibleStaffIDs)),
		"delivered":  delivered.Load(),
		"failed":     failed.Load(),
	}))

	if e.resolver.Rule(offer.AttemptNumber).NotifyManager {
		e.alertManager(ctx, job, offer.AttemptNumber, ReasonHeadsUp)
	}
}

// exhaust leaves the job pending and raises the human alert
func (e *Engine) exhaust(ctx context.Context, job *domain.Job, attempt int, reason string) {
	ctx = context.WithoutCancel(ctx)

	e.logger.Warn("Escalation exhausted, job left pending",
		slog.String("job_id", job.ID),
		slog.Int("attempt", attempt),
		slog.String("reason", reason),
	)
	telemetry.EscalationsExhausted.Inc()
	if err := e.store.MarkExhausted(ctx, job.ID, e.now()); err != nil {
		// the sweep may alert once more for this job
		e.logger.Error("Failed to mark job exhausted",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	e.record(ctx, domain.AuditEvent{
		Type:          domain.AuditEscalationExhausted,
		JobID:         job.ID,
		Actor:         SystemActor,
		AttemptNumber: attempt,
	}.WithDetail(map[string]any{"reason": reason}))
	e.alertManager(ctx, job, attempt, ReasonExhausted)
}

func (e *Engine) alertManager(ctx context.Context, job *domain.Job, attempt int, reason string) {
	if err := e.notifier.NotifyManager(ctx, job, attempt, reason); err != nil {
		telemetry.NotificationsSent.WithLabelValues("manager", "failed").Inc()
		e.logger.Error("Failed to notify manager",
			slog.String("job_id", job.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.NotificationsSent.WithLabelValues("manager", "sent").Inc()
}

// AcceptOffer runs the first-accept-wins transaction for staffID. Rejections are
// ErrNotEligible, ErrOfferUnavailable or ErrOfferExpired and leave no trace in the store.
func (e *Engine) AcceptOffer(ctx context.Context, offerID, staffID string) (*domain.Offer, *domain.Job, error) {
	if staffID == "" {
		return nil, nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "staff_id", Message: "is required"}}}
	}

	now := e.now()
	offer, job, err := e.store.AcceptOffer(ctx, offerID, staffID, now)
	if err != nil {
		outcome := acceptOutcome(err)
		telemetry.AcceptOutcomes.WithLabelValues(outcome).Inc()
		if outcome == "error" {
			e.logger.Error("Accept failed",
				slog.String("offer_id", offerID),
				slog.String("staff_id", staffID),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Info("Accept rejected",
				slog.String("offer_id", offerID),
				slog.String("staff_id", staffID),
				slog.String("outcome", outcome),
			)
		}
		return nil, nil, err
	}
	telemetry.AcceptOutcomes.WithLabelValues("accepted").Inc()

	e.record(ctx, domain.AuditEvent{
		Type:          domain.AuditOfferAccepted,
		JobID:         job.ID,
		OfferID:       offer.ID,
		StaffID:       staffID,
		Actor:         staffID,
		AttemptNumber: offer.AttemptNumber,
		OccurredAt:    now,
	})
	e.record(ctx, domain.AuditEvent{
		Type:          domain.AuditJobAssigned,
		JobID:         job.ID,
		OfferID:       offer.ID,
		StaffID:       staffID,
		Actor:         staffID,
		AttemptNumber: offer.AttemptNumber,
		OccurredAt:    now,
	})

	e.jobAssigned(ctx, job)
	return offer, job, nil
}

func acceptOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, domain.ErrOfferExpired):
		return "expired"
	case errors.Is(err, domain.ErrOfferUnavailable):
		return "offer_unavailable"
	case errors.Is(err, domain.ErrOfferNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// CancelOffer is the admin cancel of an open offer. The job returns to pending.
func (e *Engine) CancelOffer(ctx context.Context, offerID, reason, cancelledBy string) (*domain.Offer, *domain.Job, error) {
	verr := &domain.ValidationError{}
	if reason == "" {
		verr.Add("reason", "is required")
	}
	if cancelledBy == "" {
		verr.Add("cancelled_by", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, nil, err
	}

	offer, job, err := e.store.CancelOffer(ctx, offerID, reason, cancelledBy, e.now())
	if err != nil {
		return nil, nil, err
	}
	telemetry.OffersClosed.WithLabelValues(string(domain.OfferStatusCancelled)).Inc()

	e.record(ctx, domain.AuditEvent{
		Type:          domain.AuditOfferCancelled,
		JobID:         offer.JobID,
		OfferID:       offer.ID,
		Actor:         cancelledBy,
		AttemptNumber: offer.AttemptNumber,
		OccurredAt:    offer.Closure.ClosedAt,
	}.WithDetail(map[string]string{"reason": reason}))

	if job.Status == domain.JobStatusPending {
		e.jobStatusChanged(ctx, job, domain.JobStatusOffered)
	}
	return offer, job, nil
}

// ExpireOffer closes a due offer and escalates. Only one caller wins the guarded
// transition; losers get ErrOfferNotOpen and must do nothing further.
func (e *Engine) ExpireOffer(ctx context.Context, offerID string) (*Expiry, error) {
	offer, job, err := e.store.ExpireOffer(ctx, offerID, e.now())
	if err != nil {
		return nil, err
	}
	telemetry.OffersClosed.WithLabelValues(string(domain.OfferStatusExpired)).Inc()

	e.record(ctx, domain.AuditEvent{
		Type:          domain.AuditOfferExpired,
		JobID:         offer.JobID,
		OfferID:       offer.ID,
		Actor:         SystemActor,
		AttemptNumber: offer.AttemptNumber,
		OccurredAt:    offer.Closure.ClosedAt,
	})

	result := &Expiry{Offer: offer, Job: job}
	if job.Status != domain.JobStatusPending {
		return result, nil
	}
	e.jobStatusChanged(ctx, job, domain.JobStatusOffered)

	if offer.AttemptNumber >= e.cfg.MaxAttempts {
		e.exhaust(ctx, job, offer.AttemptNumber, "no_acceptance")
		result.Exhausted = true
		return result, nil
	}

	next, updated, err := e.createOffer(ctx, job, offer.AttemptNumber+1, domain.CreatedBySystem, SystemActor)
	if err != nil {
		return result, fmt.Errorf("failed to re-offer job %s: %w", job.ID, err)
	}
	result.Next = next
	result.Job = updated
	result.Exhausted = next == nil
	return result, nil
}

// ReofferJob is the admin re-offer of a pending job. It restarts the ladder at attempt 1.
func (e *Engine) ReofferJob(ctx context.Context, jobID, actor string) (*domain.Offer, *domain.Job, error) {
	if actor == "" {
		return nil, nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "requested_by", Message: "is required"}}}
	}
	job, err := e.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return e.createOffer(ctx, job, 1, domain.CreatedByAdmin, actor)
}

// AssignManually is the admin override. Any open offer on the job is cancelled in the
// same transaction as the assignment.
func (e *Engine) AssignManually(ctx context.Context, jobID, staffID, actor string) (*domain.Job, error) {
	verr := &domain.ValidationError{}
	if staffID == "" {
		verr.Add("assigned_staff_id", "is required")
	}
	if actor == "" {
		verr.Add("updated_by", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	staff, err := e.staff.GetStaffByID(ctx, staffID)
	if errors.Is(err, domain.ErrStaffNotFound) {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "assigned_staff_id", Message: "unknown staff member"}}}
	}
	if err != nil {
		return nil, err
	}
	if !staff.Available() {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "assigned_staff_id", Message: "staff member is inactive or suspended"}}}
	}

	now := e.now()
	result, err := e.store.AssignManually(ctx, domain.ManualAssignment{
		JobID:   jobID,
		StaffID: staffID,
		Actor:   actor,
		OfferID: e.newID(),
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	if cancelled := result.CancelledOffer; cancelled != nil {
		telemetry.OffersClosed.WithLabelValues(string(domain.OfferStatusCancelled)).Inc()
		e.record(ctx, domain.AuditEvent{
			Type:          domain.AuditOfferCancelled,
			JobID:         jobID,
			OfferID:       cancelled.ID,
			Actor:         actor,
			AttemptNumber: cancelled.AttemptNumber,
			OccurredAt:    now,
		}.WithDetail(map[string]string{"reason": cancelled.Closure.Reason}))
	}

	override := domain.AuditEvent{
		Type:       domain.AuditManualOverride,
		JobID:      jobID,
		StaffID:    staffID,
		Actor:      actor,
		OccurredAt: now,
	}
	if result.Offer != nil {
		override.OfferID = result.Offer.ID
	}
	e.record(ctx, override)
	e.record(ctx, domain.AuditEvent{
		Type:       domain.AuditJobAssigned,
		JobID:      jobID,
		OfferID:    override.OfferID,
		StaffID:    staffID,
		Actor:      actor,
		OccurredAt: now,
	})

	e.jobAssigned(ctx, result.Job)
	return result.Job, nil
}

func (e *Engine) jobAssigned(ctx context.Context, job *domain.Job) {
	if err := e.notifier.JobAssigned(context.WithoutCancel(ctx), job); err != nil {
		telemetry.NotificationsSent.WithLabelValues("assigned", "failed").Inc()
		e.logger.Error("Failed to publish job assignment",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.NotificationsSent.WithLabelValues("assigned", "sent").Inc()
}

func (e *Engine) jobStatusChanged(ctx context.Context, job *domain.Job, from domain.JobStatus) {
	if err := e.notifier.JobStatusChanged(context.WithoutCancel(ctx), job, from); err != nil {
		telemetry.NotificationsSent.WithLabelValues("status_changed", "failed").Inc()
		e.logger.Error("Failed to publish job status change",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.NotificationsSent.WithLabelValues("status_changed", "sent").Inc()
}

// ListOpenOffers returns the open, unexpired offers staffID may accept
func (e *Engine) ListOpenOffers(ctx context.Context, staffID string) ([]*domain.Offer, error) {
	return e.store.ListOpenOffersForStaff(ctx, staffID, e.now())
}

// GetOffer returns one offer
func (e *Engine) GetOffer(ctx context.Context, offerID string) (*domain.Offer, error) {
	return e.store.GetOfferByID(ctx, offerID)
}

// ExpiredOffers lists up to limit open offers whose deadline has passed
func (e *Engine) ExpiredOffers(ctx context.Context, limit int) ([]*domain.Offer, error) {
	return e.store.ListExpiredOffers(ctx, e.now(), limit)
}

// Now exposes the engine clock
func (e *Engine) Now() time.Time {
	return e.now()
}

// StrandedJobs lists pending jobs left with no open offer and no manager alert, which
// happens when a follow-up or first offer failed to commit
func (e *Engine) StrandedJobs(ctx context.Context, limit int) ([]domain.StrandedJob, error) {
	now := e.now()
	return e.store.ListStrandedJobs(ctx, domain.StrandedFilter{
		StartsAfter:      now,
		IdleSince:        now.Add(-resumeGrace),
		IncludeUnoffered: e.cfg.AutoOffer,
		Limit:            limit,
	})
}

// ResumeEscalation opens the attempt after the stranded job's last one, or raises the
// exhaustion alert when the ladder is already used up.
func (e *Engine) ResumeEscalation(ctx context.Context, stranded domain.StrandedJob) (*Resumption, error) {
	job := stranded.Job
	if stranded.LastAttempt >= e.cfg.MaxAttempts {
		e.exhaust(ctx, job, stranded.LastAttempt, "no_acceptance")
		return &Resumption{Job: job, Exhausted: true}, nil
	}

	e.logger.Info("Resuming escalation",
		slog.String("job_id", job.ID),
		slog.Int("attempt", stranded.LastAttempt+1),
	)
	offer, updated, err := e.createOffer(ctx, job, stranded.LastAttempt+1, domain.CreatedBySystem, SystemActor)
	if err != nil {
		return nil, fmt.Errorf("failed to resume escalation of job %s: %w", job.ID, err)
	}
	return &Resumption{Job: updated, Offer: offer, Exhausted: offer == nil}, nil
}
