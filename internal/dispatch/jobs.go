package dispatch

import (
	"context"
	"log/slog"
	"slices"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// JobPage is one page of a job listing
type JobPage struct {
	Jobs []*domain.Job
	// Next is nil on the last page
	Next *domain.JobCursor
}

// CreateJobs plans and stores the jobs of a confirmed booking. Calling it again for
// the same booking returns the existing jobs without creating duplicates.
// With AutoOffer set, each newly created job gets its first offer.
func (e *Engine) CreateJobs(ctx context.Context, booking domain.BookingSnapshot) ([]*domain.Job, error) {
	planned, err := domain.PlanJobs(booking, e.cfg.Timing, e.now(), e.newID)
	if err != nil {
		return nil, err
	}

	jobs, inserted, err := e.store.CreateJobs(ctx, planned)
	if err != nil {
		return nil, err
	}

	if !e.cfg.AutoOffer {
		return jobs, nil
	}

	for i, job := range jobs {
		if !slices.Contains(inserted, job.ID) {
			continue
		}
		offer, updated, err := e.createOffer(ctx, job, 1, domain.CreatedBySystem, SystemActor)
		if err != nil {
			e.logger.Error("Failed to open first offer",
				slog.String("job_id", job.ID),
				slog.String("booking_id", booking.BookingID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if offer != nil {
			jobs[i] = updated
		}
	}
	return jobs, nil
}

// GetJob returns one job
func (e *Engine) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return e.store.GetJobByID(ctx, jobID)
}

// ListJobs returns one page of jobs, newest first
func (e *Engine) ListJobs(ctx context.Context, filter domain.JobFilter) (*JobPage, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Message: "unknown status"}}}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "from", Message: "must be before to"}}}
	}

	jobs, err := e.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &JobPage{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		last := page.Jobs[len(page.Jobs)-1]
		page.Next = &domain.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// UpdateJobStatus applies a requested status change. assigned routes to the manual
// override, offered to an admin re-offer; everything else is a guarded forward transition.
func (e *Engine) UpdateJobStatus(ctx context.Context, update domain.StatusUpdate) (*domain.Job, error) {
	verr := &domain.ValidationError{}
	if update.JobID == "" {
		verr.Add("job_id", "is required")
	}
	if !update.Status.Valid() {
		verr.Add("status", "unknown status")
	}
	if update.UpdatedBy == "" {
		verr.Add("updated_by", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	switch update.Status {
	case domain.JobStatusAssigned:
		return e.AssignManually(ctx, update.JobID, update.AssignedStaffID, update.UpdatedBy)
	case domain.JobStatusOffered:
		// an exhausted re-offer returns the job unchanged
		_, job, err := e.ReofferJob(ctx, update.JobID, update.UpdatedBy)
		if err != nil {
			return nil, err
		}
		return job, nil
	case domain.JobStatusPending:
		job, err := e.store.GetJobByID(ctx, update.JobID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.InvalidTransitionError{Entity: "job", ID: job.ID, From: string(job.Status), To: string(domain.JobStatusPending)}
	}

	now := e.now()
	change, err := e.store.UpdateJobStatus(ctx, update, now)
	if err != nil {
		return nil, err
	}
	job := change.Job

	e.record(ctx, domain.AuditEvent{
		Type:       domain.AuditJobStatusChanged,
		JobID:      job.ID,
		StaffID:    job.AssignedStaffID(),
		Actor:      update.UpdatedBy,
		OccurredAt: now,
	}.WithDetail(map[string]domain.JobStatus{"from": change.From, "to": job.Status}))

	if cancelled := change.CancelledOffer; cancelled != nil {
		e.record(ctx, domain.AuditEvent{
			Type:          domain.AuditOfferCancelled,
			JobID:         job.ID,
			OfferID:       cancelled.ID,
			Actor:         update.UpdatedBy,
			AttemptNumber: cancelled.AttemptNumber,
			OccurredAt:    now,
		}.WithDetail(map[string]string{"reason": cancelled.Closure.Reason}))
	}

	if job.Status == domain.JobStatusCancelled && (change.From == domain.JobStatusAssigned || change.From == domain.JobStatusInProgress) {
		e.record(ctx, domain.AuditEvent{
			Type:       domain.AuditJobUnassigned,
			JobID:      job.ID,
			StaffID:    job.AssignedStaffID(),
			Actor:      update.UpdatedBy,
			OccurredAt: now,
		})
	}

	e.jobStatusChanged(ctx, job, change.From)
	return job, nil
}
