package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// InsertOffer records an open offer and moves its job from pending to offered atomically.
// The job must be pending with no active offer.
func (s *Storage) InsertOffer(ctx context.Context, offer *domain.Offer) (*domain.Job, error) {
	var job *domain.Job
	err := s.withTx(ctx, "insert offer", func(tx *sqlx.Tx) error {
		var err error
		job, err = lockJob(ctx, tx, offer.JobID)
		if err != nil {
			return err
		}
		from := job.Status
		if err := job.MarkOffered(offer.ID, offer.OfferedAt); err != nil {
			if job.ActiveOfferID != "" {
				return domain.ErrJobHasOpenOffer
			}
			return err
		}
		if err := insertOfferRow(ctx, tx, offer); err != nil {
			return err
		}
		return saveJob(ctx, tx, job, from)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Offer created",
		slog.String("offer_id", offer.ID),
		slog.String("job_id", offer.JobID),
		slog.Int("attempt", offer.AttemptNumber),
		slog.Int("eligible", len(offer.EligibleStaffIDs)),
	)
	return job, nil
}

// GetOfferByID retrieves an offer by its ID
func (s *Storage) GetOfferByID(ctx context.Context, offerID string) (*domain.Offer, error) {
	var row offerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+offerColumns+` FROM job_offers WHERE offer_id = $1`, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, s.wrapErr("get offer", err)
	}
	return row.toDomain(), nil
}

// AcceptOffer is the first-accept-wins transaction. Offer and job rows are locked,
// preconditions are checked on the locked state and both rows are updated with
// status guards. Any failed precondition aborts with no writes.
func (s *Storage) AcceptOffer(ctx context.Context, offerID, staffID string, now time.Time) (*domain.Offer, *domain.Job, error) {
	var offer *domain.Offer
	var job *domain.Job
	err := s.withTx(ctx, "accept offer", func(tx *sqlx.Tx) error {
		var err error
		offer, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if err := offer.Accept(staffID, now); err != nil {
			return err
		}

		job, err = lockJob(ctx, tx, offer.JobID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusOffered || job.ActiveOfferID != offer.ID {
			return domain.ErrOfferUnavailable
		}
		if err := job.Assign(staffID, now); err != nil {
			return domain.ErrOfferUnavailable
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE job_offers
			SET status = $1,
			    accepted_by_staff_id = $2,
			    accepted_at = $3
			WHERE offer_id = $4
			  AND status = 'open'
		`, offer.Status, staffID, now, offer.ID)
		if err != nil {
			return err
		}
		if err := expectOneRow(res, domain.ErrOfferUnavailable); err != nil {
			return err
		}

		if err := saveJob(ctx, tx, job, domain.JobStatusOffered); err != nil {
			var transErr *domain.InvalidTransitionError
			if errors.As(err, &transErr) {
				return domain.ErrOfferUnavailable
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Offer accepted",
		slog.String("offer_id", offerID),
		slog.String("job_id", job.ID),
		slog.String("staff_id", staffID),
	)
	return offer, job, nil
}

// CancelOffer closes an open offer and rolls its job back to pending
func (s *Storage) CancelOffer(ctx context.Context, offerID, reason, cancelledBy string, now time.Time) (*domain.Offer, *domain.Job, error) {
	return s.closeOffer(ctx, "cancel offer", offerID, now, func(o *domain.Offer) error {
		return o.Cancel(reason, cancelledBy, now)
	})
}

// ExpireOffer closes a due open offer and rolls its job back to pending.
// Only one caller can win; the others get ErrOfferNotOpen.
func (s *Storage) ExpireOffer(ctx context.Context, offerID string, now time.Time) (*domain.Offer, *domain.Job, error) {
	return s.closeOffer(ctx, "expire offer", offerID, now, func(o *domain.Offer) error {
		return o.Expire(now)
	})
}

func (s *Storage) closeOffer(ctx context.Context, op, offerID string, now time.Time, closeFn func(o *domain.Offer) error) (*domain.Offer, *domain.Job, error) {
	var offer *domain.Offer
	var job *domain.Job
	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		var err error
		offer, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if err := closeFn(offer); err != nil {
			return err
		}

		job, err = lockJob(ctx, tx, offer.JobID)
		if err != nil {
			return err
		}

		if err := saveOfferClosure(ctx, tx, offer); err != nil {
			return err
		}

		// the job only follows when this offer is still the active one
		if job.Status == domain.JobStatusOffered && job.ActiveOfferID == offer.ID {
			if err := job.Rollback(now); err != nil {
				return err
			}
			return saveJob(ctx, tx, job, domain.JobStatusOffered)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Offer closed",
		slog.String("offer_id", offerID),
		slog.String("status", string(offer.Status)),
		slog.String("job_id", job.ID),
		slog.String("job_status", string(job.Status)),
	)
	return offer, job, nil
}

// ListExpiredOffers returns open offers whose deadline passed, oldest first
func (s *Storage) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM job_offers
		WHERE status = 'open' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`
	return s.selectOffers(ctx, "list expired offers", query, now, limit)
}

// ListOpenOffersForStaff returns open, unexpired offers whose snapshot contains staffID
func (s *Storage) ListOpenOffersForStaff(ctx context.Context, staffID string, now time.Time) ([]*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM job_offers
		WHERE status = 'open' AND expires_at > $2 AND $1 = ANY(eligible_staff_ids)
		ORDER BY expires_at`
	return s.selectOffers(ctx, "list open offers", query, staffID, now)
}

// AssignManually is the admin override. An offered job has its open offer cancelled and is
// assigned in the same transaction; a pending job gets an accepted admin offer recorded so its
// status path stays pending, offered, assigned.
func (s *Storage) AssignManually(ctx context.Context, m domain.ManualAssignment) (*domain.ManualAssignResult, error) {
	var result domain.ManualAssignResult
	err := s.withJobLocks(ctx, "assign manually", func(tx *sqlx.Tx) error {
		result = domain.ManualAssignResult{}
		job, offer, err := lockJobWithActiveOffer(ctx, tx, m.JobID)
		if err != nil {
			return err
		}
		from := job.Status

		switch from {
		case domain.JobStatusOffered:
			if offer != nil {
				if err := offer.Cancel("manual override", m.Actor, m.At); err == nil {
					if err := saveOfferClosure(ctx, tx, offer); err != nil {
						return err
					}
					result.CancelledOffer = offer
				}
			}
		case domain.JobStatusPending:
			manual := domain.NewManualOffer(m.OfferID, job, m.StaffID, m.At)
			if err := job.MarkOffered(manual.ID, m.At); err != nil {
				return err
			}
			if err := insertOfferRow(ctx, tx, manual); err != nil {
				return err
			}
			result.Offer = manual
		default:
			return &domain.InvalidTransitionError{Entity: "job", ID: job.ID, From: string(from), To: string(domain.JobStatusAssigned)}
		}

		if err := job.Assign(m.StaffID, m.At); err != nil {
			return err
		}
		if err := saveJob(ctx, tx, job, from); err != nil {
			return err
		}
		result.Job = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job assigned manually",
		slog.String("job_id", m.JobID),
		slog.String("staff_id", m.StaffID),
		slog.String("actor", m.Actor),
	)
	return &result, nil
}

func (s *Storage) selectOffers(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Offer, error) {
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, s.wrapErr(op, err)
	}
	offers := make([]*domain.Offer, len(rows))
	for i := range rows {
		offers[i] = rows[i].toDomain()
	}
	return offers, nil
}

// errActiveOfferMoved aborts a transaction whose job picked up or dropped an offer between
// the unlocked read of offer_id_active and the job row lock.
var errActiveOfferMoved = errors.New("active offer changed while locking")

const maxLockAttempts = 3

// lockJobWithActiveOffer locks the job's active offer (if any) and then the job, the same
// order AcceptOffer and the expiry path take, so an admin write racing a staff accept waits
// instead of deadlocking.
func lockJobWithActiveOffer(ctx context.Context, tx *sqlx.Tx, jobID string) (*domain.Job, *domain.Offer, error) {
	var activeID sql.NullString
	err := tx.GetContext(ctx, &activeID, `SELECT offer_id_active FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.ErrJobNotFound
		}
		return nil, nil, err
	}

	var offer *domain.Offer
	if activeID.String != "" {
		offer, err = lockOffer(ctx, tx, activeID.String)
		if err != nil {
			return nil, nil, err
		}
	}

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.ActiveOfferID != activeID.String {
		return nil, nil, errActiveOfferMoved
	}
	return job, offer, nil
}

// withJobLocks runs fn in a transaction, retrying while the active offer moves under it
func (s *Storage) withJobLocks(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		err = s.withTx(ctx, op, fn)
		if !errors.Is(err, errActiveOfferMoved) {
			return err
		}
	}
	return &domain.StoreUnavailableError{Op: op, Err: err}
}

func lockOffer(ctx context.Context, tx *sqlx.Tx, offerID string) (*domain.Offer, error) {
	var row offerRow
	err := tx.GetContext(ctx, &row, `SELECT `+offerColumns+` FROM job_offers WHERE offer_id = $1 FOR UPDATE`, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func insertOfferRow(ctx context.Context, tx *sqlx.Tx, offer *domain.Offer) error {
	query := `
		INSERT INTO job_offers (
			offer_id, job_id, property_id, required_role, eligible_staff_ids, status,
			accepted_by_staff_id, accepted_at, offered_at, expires_at, attempt_number, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)
	`

	var acceptedBy sql.NullString
	var acceptedAt sql.NullTime
	if offer.Acceptance != nil {
		acceptedBy = nullString(offer.Acceptance.StaffID)
		acceptedAt = sql.NullTime{Time: offer.Acceptance.AcceptedAt, Valid: true}
	}

	_, err := tx.ExecContext(ctx, query,
		offer.ID,
		offer.JobID,
		offer.PropertyID,
		offer.RequiredRole,
		pq.Array(offer.EligibleStaffIDs),
		offer.Status,
		acceptedBy,
		acceptedAt,
		offer.OfferedAt,
		offer.ExpiresAt,
		offer.AttemptNumber,
		offer.CreatedBy,
	)
	if postgresql.IsUniqueViolation(err) {
		return domain.ErrJobHasOpenOffer
	}
	return err
}

func saveOfferClosure(ctx context.Context, tx *sqlx.Tx, offer *domain.Offer) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE job_offers
		SET status = $1,
		    closed_at = $2,
		    closed_by = $3,
		    close_reason = $4
		WHERE offer_id = $5
		  AND status = 'open'
	`, offer.Status, offer.Closure.ClosedAt, offer.Closure.ClosedBy, offer.Closure.Reason, offer.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, domain.ErrOfferNotOpen)
}
