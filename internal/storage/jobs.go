package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/jmoiron/sqlx"
)

// CreateJobs inserts the planned jobs of one booking in a single transaction.
// Jobs that already exist for (booking_id, job_type, sequence) are left untouched.
// It returns every job of the booking and the ids inserted by this call.
func (s *Storage) CreateJobs(ctx context.Context, jobs []*domain.Job) ([]*domain.Job, []string, error) {
	if len(jobs) == 0 {
		return nil, nil, nil
	}
	bookingID := jobs[0].BookingID

	query := `
		INSERT INTO jobs (
			job_id, booking_id, property_id, property_name, guest_name, job_type, required_role,
			sequence, scheduled_start, scheduled_end, status, priority, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (booking_id, job_type, sequence) DO NOTHING
		RETURNING job_id
	`

	var inserted []string
	var all []*domain.Job
	err := s.withTx(ctx, "create jobs", func(tx *sqlx.Tx) error {
		for _, job := range jobs {
			var id string
			err := tx.QueryRowxContext(ctx, query,
				job.ID,
				job.BookingID,
				job.PropertyID,
				job.PropertyName,
				job.GuestName,
				job.Type,
				job.RequiredRole,
				job.Sequence,
				job.ScheduledStart,
				job.ScheduledEnd,
				job.Status,
				job.Priority,
				job.Notes,
				job.CreatedAt,
				job.UpdatedAt,
			).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			inserted = append(inserted, id)
		}

		var rows []jobRow
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+jobColumns+` FROM jobs WHERE booking_id = $1 ORDER BY scheduled_start, job_type, sequence`,
			bookingID,
		); err != nil {
			return err
		}
		all = make([]*domain.Job, len(rows))
		for i := range rows {
			all[i] = rows[i].toDomain()
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Jobs created for booking",
		slog.String("booking_id", bookingID),
		slog.Int("inserted", len(inserted)),
		slog.Int("total", len(all)),
	)

	return all, inserted, nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, s.wrapErr("get job", err)
	}
	return row.toDomain(), nil
}

// ListJobs returns one page of jobs plus one extra row when more results exist
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.PropertyID != "" {
		query += fmt.Sprintf(" AND property_id = $%d", argIdx)
		args = append(args, filter.PropertyID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.AssignedStaffID != "" {
		query += fmt.Sprintf(" AND assigned_staff_id = $%d", argIdx)
		args = append(args, filter.AssignedStaffID)
		argIdx++
	}

	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND scheduled_end > $%d", argIdx)
		args = append(args, filter.From)
		argIdx++
	}

	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND scheduled_start < $%d", argIdx)
		args = append(args, filter.To)
		argIdx++
	}

	if filter.VisibleTo != "" {
		query += fmt.Sprintf(` AND (assigned_staff_id = $%d OR (status = 'offered' AND EXISTS (
			SELECT 1 FROM job_offers o
			WHERE o.offer_id = jobs.offer_id_active AND o.status = 'open' AND $%d = ANY(o.eligible_staff_ids))))`,
			argIdx, argIdx)
		args = append(args, filter.VisibleTo)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, s.wrapErr("list jobs", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

// UpdateJobStatus applies a forward transition guarded by the current status.
// Cancelling an offered job cancels its open offer in the same transaction.
func (s *Storage) UpdateJobStatus(ctx context.Context, update domain.StatusUpdate, now time.Time) (*domain.StatusChange, error) {
	var change domain.StatusChange
	err := s.withJobLocks(ctx, "update job status", func(tx *sqlx.Tx) error {
		change = domain.StatusChange{}
		job, offer, err := lockJobWithActiveOffer(ctx, tx, update.JobID)
		if err != nil {
			return err
		}
		from := job.Status

		if err := job.Transition(update.Status, now); err != nil {
			return err
		}
		if len(update.CompletionData) > 0 {
			job.CompletionData = update.CompletionData
		}

		if update.Status == domain.JobStatusCancelled && from == domain.JobStatusOffered && offer != nil {
			if err := offer.Cancel("job cancelled", update.UpdatedBy, now); err == nil {
				if err := saveOfferClosure(ctx, tx, offer); err != nil {
					return err
				}
				change.CancelledOffer = offer
			}
		}

		if err := saveJob(ctx, tx, job, from); err != nil {
			return err
		}
		change.Job = job
		change.From = from
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", update.JobID),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.Job.Status)),
	)
	return &change, nil
}

// ListStrandedJobs returns pending jobs with no open offer whose latest offer expired
// without a follow-up and that were never marked exhausted, soonest start first.
func (s *Storage) ListStrandedJobs(ctx context.Context, f domain.StrandedFilter) ([]domain.StrandedJob, error) {
	query := `SELECT ` + jobColumns + `, COALESCE(lo.last_attempt, 0) AS last_attempt
		FROM jobs
		LEFT JOIN LATERAL (
			SELECT o.attempt_number AS last_attempt, o.status AS last_status
			FROM job_offers o
			WHERE o.job_id = jobs.job_id
			ORDER BY o.offered_at DESC, o.attempt_number DESC
			LIMIT 1
		) lo ON TRUE
		WHERE jobs.status = 'pending'
		  AND jobs.offer_id_active IS NULL
		  AND jobs.exhausted_at IS NULL
		  AND jobs.scheduled_start > $1
		  AND jobs.updated_at <= $2
		  AND (lo.last_status = 'expired' OR (lo.last_status IS NULL AND $3::boolean))
		ORDER BY jobs.scheduled_start
		LIMIT $4`

	var rows []strandedRow
	if err := s.db.SelectContext(ctx, &rows, query, f.StartsAfter, f.IdleSince, f.IncludeUnoffered, f.Limit); err != nil {
		return nil, s.wrapErr("list stranded jobs", err)
	}

	stranded := make([]domain.StrandedJob, len(rows))
	for i := range rows {
		stranded[i] = domain.StrandedJob{Job: rows[i].toDomain(), LastAttempt: rows[i].LastAttempt}
	}
	return stranded, nil
}

// MarkExhausted records that escalation of a pending job ended with a manager alert.
// A job that has been offered or assigned since is left alone.
func (s *Storage) MarkExhausted(ctx context.Context, jobID string, at time.Time) error {
	query := `
		UPDATE jobs
		SET exhausted_at = $2
		WHERE job_id = $1
		  AND status = 'pending'
		  AND offer_id_active IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, jobID, at); err != nil {
		return s.wrapErr("mark job exhausted", err)
	}
	return nil
}

// ListBusyWindows returns committed assignments overlapping [from, to)
func (s *Storage) ListBusyWindows(ctx context.Context, from, to time.Time) ([]domain.BusyWindow, error) {
	query := `
		SELECT assigned_staff_id, job_id, scheduled_start, scheduled_end
		FROM jobs
		WHERE status IN ('assigned', 'in_progress')
		  AND assigned_staff_id IS NOT NULL
		  AND scheduled_start < $2
		  AND scheduled_end > $1
	`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, s.wrapErr("list busy windows", err)
	}
	defer rows.Close()

	var busy []domain.BusyWindow
	for rows.Next() {
		var b domain.BusyWindow
		if err := rows.Scan(&b.StaffID, &b.JobID, &b.Window.Start, &b.Window.End); err != nil {
			return nil, s.wrapErr("scan busy window", err)
		}
		busy = append(busy, b)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr("list busy windows", err)
	}
	return busy, nil
}

func lockJob(ctx context.Context, tx *sqlx.Tx, jobID string) (*domain.Job, error) {
	var row jobRow
	err := tx.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// saveJob writes the mutable columns of job, guarded by the status it was read in
func saveJob(ctx context.Context, tx *sqlx.Tx, job *domain.Job, from domain.JobStatus) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    assigned_staff_id = $2,
		    assigned_at = $3,
		    offer_id_active = $4,
		    completion_data = $5,
		    updated_at = $6,
		    started_at = $7,
		    completed_at = $8,
		    cancelled_at = $9,
		    exhausted_at = CASE WHEN $1 = 'pending' THEN exhausted_at END
		WHERE job_id = $10
		  AND status = $11
	`

	var assignedStaff sql.NullString
	var assignedAt sql.NullTime
	if job.Assignment != nil {
		assignedStaff = nullString(job.Assignment.StaffID)
		assignedAt = sql.NullTime{Time: job.Assignment.AssignedAt, Valid: true}
	}

	res, err := tx.ExecContext(ctx, query,
		job.Status,
		assignedStaff,
		assignedAt,
		nullString(job.ActiveOfferID),
		nullJSON(job.CompletionData),
		job.UpdatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullTime(job.CancelledAt),
		job.ID,
		from,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, &domain.InvalidTransitionError{Entity: "job", ID: job.ID, From: string(from), To: string(job.Status)})
}
