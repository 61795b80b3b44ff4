package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/lib/pq"
)

const jobColumns = `job_id, booking_id, property_id, property_name, guest_name, job_type, required_role,
	sequence, scheduled_start, scheduled_end, status, priority, assigned_staff_id, assigned_at,
	offer_id_active, notes, completion_data, created_at, updated_at, started_at, completed_at, cancelled_at`

const offerColumns = `offer_id, job_id, property_id, required_role, eligible_staff_ids, status,
	accepted_by_staff_id, accepted_at, closed_at, closed_by, close_reason, offered_at, expires_at,
	attempt_number, created_by`

const auditColumns = `event_id, event_type, job_id, offer_id, staff_id, actor, attempt_number, detail, occurred_at`

const staffColumns = `staff_id, name, primary_role, secondary_roles, is_active, is_suspended, push_token, email, phone`

type jobRow struct {
	JobID           string         `db:"job_id"`
	BookingID       string         `db:"booking_id"`
	PropertyID      string         `db:"property_id"`
	PropertyName    string         `db:"property_name"`
	GuestName       string         `db:"guest_name"`
	JobType         string         `db:"job_type"`
	RequiredRole    string         `db:"required_role"`
	Sequence        int            `db:"sequence"`
	ScheduledStart  time.Time      `db:"scheduled_start"`
	ScheduledEnd    time.Time      `db:"scheduled_end"`
	Status          string         `db:"status"`
	Priority        string         `db:"priority"`
	AssignedStaffID sql.NullString `db:"assigned_staff_id"`
	AssignedAt      sql.NullTime   `db:"assigned_at"`
	OfferIDActive   sql.NullString `db:"offer_id_active"`
	Notes           string         `db:"notes"`
	CompletionData  []byte         `db:"completion_data"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	CancelledAt     sql.NullTime   `db:"cancelled_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:             r.JobID,
		BookingID:      r.BookingID,
		PropertyID:     r.PropertyID,
		PropertyName:   r.PropertyName,
		GuestName:      r.GuestName,
		Type:           domain.JobType(r.JobType),
		RequiredRole:   domain.Role(r.RequiredRole),
		Sequence:       r.Sequence,
		ScheduledStart: r.ScheduledStart,
		ScheduledEnd:   r.ScheduledEnd,
		Status:         domain.JobStatus(r.Status),
		Priority:       domain.Priority(r.Priority),
		ActiveOfferID:  r.OfferIDActive.String,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      timePtr(r.StartedAt),
		CompletedAt:    timePtr(r.CompletedAt),
		CancelledAt:    timePtr(r.CancelledAt),
	}
	if len(r.CompletionData) > 0 {
		job.CompletionData = json.RawMessage(r.CompletionData)
	}
	if r.AssignedStaffID.Valid {
		job.Assignment = &domain.Assignment{StaffID: r.AssignedStaffID.String, AssignedAt: r.AssignedAt.Time}
	}
	return job
}

// strandedRow is a job row plus the attempt number of its latest offer
type strandedRow struct {
	jobRow
	LastAttempt int `db:"last_attempt"`
}

type offerRow struct {
	OfferID           string         `db:"offer_id"`
	JobID             string         `db:"job_id"`
	PropertyID        string         `db:"property_id"`
	RequiredRole      string         `db:"required_role"`
	EligibleStaffIDs  pq.StringArray `db:"eligible_staff_ids"`
	Status            string         `db:"status"`
	AcceptedByStaffID sql.NullString `db:"accepted_by_staff_id"`
	AcceptedAt        sql.NullTime   `db:"accepted_at"`
	ClosedAt          sql.NullTime   `db:"closed_at"`
	ClosedBy          sql.NullString `db:"closed_by"`
	CloseReason       sql.NullString `db:"close_reason"`
	OfferedAt         time.Time      `db:"offered_at"`
	ExpiresAt         time.Time      `db:"expires_at"`
	AttemptNumber     int            `db:"attempt_number"`
	CreatedBy         string         `db:"created_by"`
}

func (r *offerRow) toDomain() *domain.Offer {
	offer := &domain.Offer{
		ID:               r.OfferID,
		JobID:            r.JobID,
		PropertyID:       r.PropertyID,
		RequiredRole:     domain.Role(r.RequiredRole),
		EligibleStaffIDs: []string(r.EligibleStaffIDs),
		Status:           domain.OfferStatus(r.Status),
		OfferedAt:        r.OfferedAt,
		ExpiresAt:        r.ExpiresAt,
		AttemptNumber:    r.AttemptNumber,
		CreatedBy:        domain.Creator(r.CreatedBy),
	}
	if offer.EligibleStaffIDs == nil {
		offer.EligibleStaffIDs = []string{}
	}
	if r.AcceptedByStaffID.Valid {
		offer.Acceptance = &domain.Acceptance{StaffID: r.AcceptedByStaffID.String, AcceptedAt: r.AcceptedAt.Time}
	}
	if r.ClosedAt.Valid {
		offer.Closure = &domain.Closure{ClosedAt: r.ClosedAt.Time, ClosedBy: r.ClosedBy.String, Reason: r.CloseReason.String}
	}
	return offer
}

type auditRow struct {
	EventID       string         `db:"event_id"`
	EventType     string         `db:"event_type"`
	JobID         sql.NullString `db:"job_id"`
	OfferID       sql.NullString `db:"offer_id"`
	StaffID       sql.NullString `db:"staff_id"`
	Actor         string         `db:"actor"`
	AttemptNumber sql.NullInt64  `db:"attempt_number"`
	Detail        []byte         `db:"detail"`
	OccurredAt    time.Time      `db:"occurred_at"`
}

func (r *auditRow) toDomain() domain.AuditEvent {
	e := domain.AuditEvent{
		ID:            r.EventID,
		Type:          domain.AuditEventType(r.EventType),
		JobID:         r.JobID.String,
		OfferID:       r.OfferID.String,
		StaffID:       r.StaffID.String,
		Actor:         r.Actor,
		AttemptNumber: int(r.AttemptNumber.Int64),
		OccurredAt:    r.OccurredAt,
	}
	if len(r.Detail) > 0 {
		e.Detail = json.RawMessage(r.Detail)
	}
	return e
}

type staffRow struct {
	StaffID        string         `db:"staff_id"`
	Name           string         `db:"name"`
	PrimaryRole    string         `db:"primary_role"`
	SecondaryRoles pq.StringArray `db:"secondary_roles"`
	IsActive       bool           `db:"is_active"`
	IsSuspended    bool           `db:"is_suspended"`
	PushToken      string         `db:"push_token"`
	Email          string         `db:"email"`
	Phone          string         `db:"phone"`
}

func (r *staffRow) toDomain() domain.Staff {
	roles := make([]domain.Role, len(r.SecondaryRoles))
	for i, role := range r.SecondaryRoles {
		roles[i] = domain.Role(role)
	}
	return domain.Staff{
		ID:             r.StaffID,
		Name:           r.Name,
		PrimaryRole:    domain.Role(r.PrimaryRole),
		SecondaryRoles: roles,
		IsActive:       r.IsActive,
		IsSuspended:    r.IsSuspended,
		PushToken:      r.PushToken,
		Email:          r.Email,
		Phone:          r.Phone,
	}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullJSON passes JSONB as text; lib/pq would send a []byte as bytea
func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
