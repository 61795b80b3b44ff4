package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	jobStart  = testNow.Add(2 * time.Hour)
	offerCols = []string{
		"offer_id", "job_id", "property_id", "required_role", "eligible_staff_ids", "status",
		"accepted_by_staff_id", "accepted_at", "closed_at", "closed_by", "close_reason",
		"offered_at", "expires_at", "attempt_number", "created_by",
	}
	jobCols = []string{
		"job_id", "booking_id", "property_id", "property_name", "guest_name", "job_type", "required_role",
		"sequence", "scheduled_start", "scheduled_end", "status", "priority", "assigned_staff_id", "assigned_at",
		"offer_id_active", "notes", "completion_data", "created_at", "updated_at", "started_at", "completed_at", "cancelled_at",
	}
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(mockDB, "postgres"), logger), mock
}

func openOfferRow(status string, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(offerCols).AddRow(
		"offer-1", "job-1", "property-1", "cleaner", "{staff-a,staff-b}", status,
		nil, nil, nil, nil, nil,
		testNow.Add(-5*time.Minute), expiresAt, 1, "system",
	)
}

func jobRowWith(status, activeOffer string) *sqlmock.Rows {
	var offerID interface{}
	if activeOffer != "" {
		offerID = activeOffer
	}
	return sqlmock.NewRows(jobCols).AddRow(
		"job-1", "booking-1", "property-1", "Harbour Loft", "J. Doe", "cleaning", "cleaner",
		1, jobStart, jobStart.Add(3*time.Hour), status, "medium", nil, nil,
		offerID, "", nil, testNow.Add(-time.Hour), testNow.Add(-time.Hour), nil, nil, nil,
	)
}

func activeOfferRow(offerID string) *sqlmock.Rows {
	var id interface{}
	if offerID != "" {
		id = offerID
	}
	return sqlmock.NewRows([]string{"offer_id_active"}).AddRow(id)
}

const (
	activeOfferSQL = `SELECT offer_id_active FROM jobs WHERE job_id = \$1$`
	lockOfferSQL   = `SELECT (.+) FROM job_offers WHERE offer_id = \$1 FOR UPDATE`
	lockJobSQL     = `SELECT (.+) FROM jobs WHERE job_id = \$1 FOR UPDATE`
)

func TestStorage_AcceptOffer_Success(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOfferSQL).WithArgs("offer-1").WillReturnRows(openOfferRow("open", testNow.Add(10*time.Minute)))
	mock.ExpectQuery(lockJobSQL).WithArgs("job-1").WillReturnRows(jobRowWith("offered", "offer-1"))
	mock.ExpectExec(`UPDATE job_offers SET status = \$1, accepted_by_staff_id = \$2, accepted_at = \$3 WHERE offer_id = \$4 AND status = 'open'`).
		WithArgs("accepted", "staff-b", testNow, "offer-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs("assigned", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			testNow, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", "offered").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	offer, job, err := store.AcceptOffer(context.Background(), "offer-1", "staff-b", testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusAccepted, offer.Status)
	assert.Equal(t, "staff-b", offer.AcceptedBy())
	assert.Equal(t, domain.JobStatusAssigned, job.Status)
	assert.Equal(t, "staff-b", job.AssignedStaffID())
	assert.Empty(t, job.ActiveOfferID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_AcceptOffer_RejectionsWriteNothing(t *testing.T) {
	tests := []struct {
		name    string
		staffID string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name:    "not in snapshot",
			staffID: "staff-c",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("open", testNow.Add(10*time.Minute)))
			},
			wantErr: domain.ErrNotEligible,
		},
		{
			name:    "already accepted",
			staffID: "staff-a",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("accepted", testNow.Add(10*time.Minute)))
			},
			wantErr: domain.ErrOfferUnavailable,
		},
		{
			name:    "deadline passed",
			staffID: "staff-a",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("open", testNow))
			},
			wantErr: domain.ErrOfferExpired,
		},
		{
			name:    "job moved on",
			staffID: "staff-a",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("open", testNow.Add(10*time.Minute)))
				mock.ExpectQuery(lockJobSQL).WillReturnRows(jobRowWith("cancelled", ""))
			},
			wantErr: domain.ErrOfferUnavailable,
		},
		{
			name:    "unknown offer",
			staffID: "staff-a",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockOfferSQL).WillReturnRows(sqlmock.NewRows(offerCols))
			},
			wantErr: domain.ErrOfferNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStorage(t)
			mock.ExpectBegin()
			tt.setup(mock)
			mock.ExpectRollback()

			offer, job, err := store.AcceptOffer(context.Background(), "offer-1", tt.staffID, testNow)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, offer)
			assert.Nil(t, job)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_AcceptOffer_ConcurrentWriterWins(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("open", testNow.Add(10*time.Minute)))
	mock.ExpectQuery(lockJobSQL).WillReturnRows(jobRowWith("offered", "offer-1"))
	mock.ExpectExec(`UPDATE job_offers`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := store.AcceptOffer(context.Background(), "offer-1", "staff-a", testNow)
	assert.ErrorIs(t, err, domain.ErrOfferUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_AcceptOffer_SerializationFailureIsRetryable(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOfferSQL).WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	_, _, err := store.AcceptOffer(context.Background(), "offer-1", "staff-a", testNow)
	var storeErr *domain.StoreUnavailableError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "accept offer", storeErr.Op)
	assert.True(t, domain.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ExpireOffer(t *testing.T) {
	t.Run("due offer rolls the job back", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("open", testNow.Add(-time.Second)))
		mock.ExpectQuery(lockJobSQL).WillReturnRows(jobRowWith("offered", "offer-1"))
		mock.ExpectExec(`UPDATE job_offers SET status = \$1, closed_at = \$2, closed_by = \$3, close_reason = \$4 WHERE offer_id = \$5 AND status = 'open'`).
			WithArgs("expired", testNow, "system", "expired", "offer-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE jobs SET status = \$1`).
			WithArgs("pending", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				testNow, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", "offered").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		offer, job, err := store.ExpireOffer(context.Background(), "offer-1", testNow)
		require.NoError(t, err)
		assert.Equal(t, domain.OfferStatusExpired, offer.Status)
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Empty(t, job.ActiveOfferID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("offer accepted first", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("accepted", testNow.Add(-time.Second)))
		mock.ExpectRollback()

		_, _, err := store.ExpireOffer(context.Background(), "offer-1", testNow)
		assert.ErrorIs(t, err, domain.ErrOfferNotOpen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not yet due", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("open", testNow.Add(time.Minute)))
		mock.ExpectRollback()

		_, _, err := store.ExpireOffer(context.Background(), "offer-1", testNow)
		assert.ErrorIs(t, err, domain.ErrOfferNotOpen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_InsertOffer(t *testing.T) {
	job := &domain.Job{ID: "job-1", PropertyID: "property-1", RequiredRole: domain.RoleCleaner, ScheduledStart: jobStart}
	offer := domain.NewOffer("offer-2", job, []string{"staff-a"}, 2, domain.CreatedBySystem, testNow, 15*time.Minute)

	t.Run("pending job", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockJobSQL).WithArgs("job-1").WillReturnRows(jobRowWith("pending", ""))
		mock.ExpectExec(`INSERT INTO job_offers`).
			WithArgs("offer-2", "job-1", "property-1", "cleaner", sqlmock.AnyArg(), "open",
				sqlmock.AnyArg(), sqlmock.AnyArg(), testNow, testNow.Add(15*time.Minute), 2, "system").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE jobs SET status = \$1`).
			WithArgs("offered", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				testNow, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		updated, err := store.InsertOffer(context.Background(), offer)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusOffered, updated.Status)
		assert.Equal(t, "offer-2", updated.ActiveOfferID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("job already offered", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockJobSQL).WillReturnRows(jobRowWith("offered", "offer-1"))
		mock.ExpectRollback()

		_, err := store.InsertOffer(context.Background(), offer)
		assert.ErrorIs(t, err, domain.ErrJobHasOpenOffer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("job already assigned", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockJobSQL).WillReturnRows(jobRowWith("assigned", ""))
		mock.ExpectRollback()

		_, err := store.InsertOffer(context.Background(), offer)
		assert.NotErrorIs(t, err, domain.ErrJobHasOpenOffer)
		var transErr *domain.InvalidTransitionError
		require.ErrorAs(t, err, &transErr)
		assert.Equal(t, "assigned", transErr.From)
		assert.Equal(t, "offered", transErr.To)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("partial unique index", func(t *testing.T) {
		store, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockJobSQL).WillReturnRows(jobRowWith("pending", ""))
		mock.ExpectExec(`INSERT INTO job_offers`).WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.InsertOffer(context.Background(), offer)
		assert.ErrorIs(t, err, domain.ErrJobHasOpenOffer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_CancelOffer_NotOpen(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockOfferSQL).WillReturnRows(openOfferRow("cancelled", testNow.Add(time.Minute)))
	mock.ExpectRollback()

	_, _, err := store.CancelOffer(context.Background(), "offer-1", "property damaged", "admin-1", testNow)
	assert.ErrorIs(t, err, domain.ErrOfferNotOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetOfferByID(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT (.+) FROM job_offers WHERE offer_id = \$1`).
		WithArgs("offer-1").
		WillReturnRows(openOfferRow("open", testNow.Add(time.Minute)))

	offer, err := store.GetOfferByID(context.Background(), "offer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"staff-a", "staff-b"}, offer.EligibleStaffIDs)
	assert.Nil(t, offer.Acceptance)
	assert.Nil(t, offer.Closure)
	assert.NoError(t, offer.Validate())
}

func TestStorage_AssignManually_OfferedJob(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(activeOfferSQL).WithArgs("job-1").WillReturnRows(activeOfferRow("offer-1"))
	mock.ExpectQuery(lockOfferSQL).WithArgs("offer-1").WillReturnRows(openOfferRow("open", testNow.Add(time.Minute)))
	mock.ExpectQuery(lockJobSQL).WithArgs("job-1").WillReturnRows(jobRowWith("offered", "offer-1"))
	mock.ExpectExec(`UPDATE job_offers SET status = \$1, closed_at`).
		WithArgs("cancelled", testNow, "admin-1", "manual override", "offer-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs("assigned", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			testNow, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", "offered").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.AssignManually(context.Background(), domain.ManualAssignment{
		JobID: "job-1", StaffID: "staff-z", Actor: "admin-1", OfferID: "offer-unused", At: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "staff-z", result.Job.AssignedStaffID())
	require.NotNil(t, result.CancelledOffer)
	assert.Equal(t, domain.OfferStatusCancelled, result.CancelledOffer.Status)
	assert.Nil(t, result.Offer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_AssignManually_PendingJob(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(activeOfferSQL).WithArgs("job-1").WillReturnRows(activeOfferRow(""))
	mock.ExpectQuery(lockJobSQL).WithArgs("job-1").WillReturnRows(jobRowWith("pending", ""))
	mock.ExpectExec(`INSERT INTO job_offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs("assigned", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			testNow, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.AssignManually(context.Background(), domain.ManualAssignment{
		JobID: "job-1", StaffID: "staff-z", Actor: "admin-1", OfferID: "offer-admin", At: testNow,
	})
	require.NoError(t, err)
	assert.Nil(t, result.CancelledOffer)
	require.NotNil(t, result.Offer)
	assert.Equal(t, "offer-admin", result.Offer.ID)
	assert.Equal(t, domain.JobStatusAssigned, result.Job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_AssignManually_ActiveOfferKeepsMoving(t *testing.T) {
	store, mock := newMockStorage(t)

	for i := 0; i < maxLockAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(activeOfferSQL).WithArgs("job-1").WillReturnRows(activeOfferRow(""))
		mock.ExpectQuery(lockJobSQL).WithArgs("job-1").WillReturnRows(jobRowWith("offered", "offer-1"))
		mock.ExpectRollback()
	}

	_, err := store.AssignManually(context.Background(), domain.ManualAssignment{
		JobID: "job-1", StaffID: "staff-z", Actor: "admin-1", OfferID: "offer-admin", At: testNow,
	})
	var storeErr *domain.StoreUnavailableError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "assign manually", storeErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
