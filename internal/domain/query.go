package domain

import (
	"encoding/json"
	"time"
)

// JobCursor is the keyset position of the last job on a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobFilter narrows a job listing
type JobFilter struct {
	PropertyID      string
	Status          JobStatus
	AssignedStaffID string
	From            time.Time
	To              time.Time
	// VisibleTo restricts results to jobs assigned to this staff member or
	// offered to them through the active snapshot
	VisibleTo string
	PageSize  int
	Cursor    *JobCursor
}

// StatusUpdate is a requested job status change
type StatusUpdate struct {
	JobID           string
	Status          JobStatus
	AssignedStaffID string
	CompletionData  json.RawMessage
	UpdatedBy       string
}

// StatusChange is the committed result of a status update
type StatusChange struct {
	Job  *Job
	From JobStatus
	// CancelledOffer is the open offer closed together with the job, if any
	CancelledOffer *Offer
}

// ManualAssignment is an admin override of the offer flow
type ManualAssignment struct {
	JobID   string
	StaffID string
	Actor   string
	// OfferID is used when the job is pending and an admin offer has to be recorded
	OfferID string
	At      time.Time
}

// ManualAssignResult is the committed result of a manual assignment
type ManualAssignResult struct {
	Job            *Job
	Offer          *Offer
	CancelledOffer *Offer
}

// StrandedFilter selects pending jobs whose escalation stopped with neither an open
// offer nor a manager alert
type StrandedFilter struct {
	// StartsAfter drops jobs that have already started
	StartsAfter time.Time
	// IdleSince drops jobs touched after it, so offers still being opened are left alone
	IdleSince time.Time
	// IncludeUnoffered also returns jobs that never had an offer
	IncludeUnoffered bool
	Limit            int
}

// StrandedJob is a pending job to resume and the attempt its latest offer reached.
// LastAttempt is 0 for a job that was never offered.
type StrandedJob struct {
	Job         *Job
	LastAttempt int
}
