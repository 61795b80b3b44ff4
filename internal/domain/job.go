package domain

import (
	"encoding/json"
	"time"
)

// JobType classifies the operational work derived from a booking
type JobType string

const (
	JobTypeCleaning    JobType = "cleaning"
	JobTypeInspection  JobType = "inspection"
	JobTypeMaintenance JobType = "maintenance"
)

// Role is a staff role
type Role string

const (
	RoleCleaner     Role = "cleaner"
	RoleInspector   Role = "inspector"
	RoleMaintenance Role = "maintenance"
	RoleTechnician  Role = "technician"
	RoleSupervisor  Role = "supervisor"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusOffered    JobStatus = "offered"
	JobStatusAssigned   JobStatus = "assigned"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Priority of a job
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var primaryRoles = map[JobType]Role{
	JobTypeCleaning:    RoleCleaner,
	JobTypeInspection:  RoleInspector,
	JobTypeMaintenance: RoleMaintenance,
}

var capableRoles = map[JobType][]Role{
	JobTypeCleaning:    {RoleCleaner},
	JobTypeInspection:  {RoleInspector, RoleSupervisor},
	JobTypeMaintenance: {RoleMaintenance, RoleTechnician, RoleSupervisor},
}

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	_, ok := primaryRoles[t]
	return ok
}

// RequiredRole returns the primary role that performs this job type
func (t JobType) RequiredRole() Role {
	return primaryRoles[t]
}

// CapableRoles returns every role allowed to perform this job type
func (t JobType) CapableRoles() []Role {
	return capableRoles[t]
}

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Assignment is present only on jobs that reached assigned
type Assignment struct {
	StaffID    string    `json:"staff_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Job is one unit of operational work tied to a booking
type Job struct {
	ID             string          `json:"job_id"`
	BookingID      string          `json:"booking_id"`
	PropertyID     string          `json:"property_id"`
	PropertyName   string          `json:"property_name"`
	GuestName      string          `json:"guest_name"`
	Type           JobType         `json:"job_type"`
	RequiredRole   Role            `json:"required_role"`
	Sequence       int             `json:"sequence"`
	ScheduledStart time.Time       `json:"scheduled_start"`
	ScheduledEnd   time.Time       `json:"scheduled_end"`
	Status         JobStatus       `json:"status"`
	Priority       Priority        `json:"priority"`
	Assignment     *Assignment     `json:"assignment,omitempty"`
	ActiveOfferID  string          `json:"offer_id_active,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CompletionData json.RawMessage `json:"completion_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// AssignedStaffID returns the assigned staff member or an empty string
func (j *Job) AssignedStaffID() string {
	if j.Assignment == nil {
		return ""
	}
	return j.Assignment.StaffID
}

// Window returns the scheduled window of the job
func (j *Job) Window() Window {
	return Window{Start: j.ScheduledStart, End: j.ScheduledEnd}
}

// Window is a half-open time interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open windows intersect
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// jobTransitions lists the edges reachable by an ordinary status update.
// offered->pending is the system rollback and is allowed only through Rollback.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusOffered, JobStatusCancelled},
	JobStatusOffered:    {JobStatusAssigned, JobStatusCancelled},
	JobStatusAssigned:   {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress: {JobStatusCompleted, JobStatusCancelled},
	JobStatusCompleted:  {},
	JobStatusCancelled:  {},
}

// CanTransition reports whether from -> to is a legal forward edge
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRollback reports whether from -> to is the system-only backward edge
func CanRollback(from, to JobStatus) bool {
	return from == JobStatusOffered && to == JobStatusPending
}

// Transition applies a forward status change and stamps the matching timestamp
func (j *Job) Transition(to JobStatus, at time.Time) error {
	if !CanTransition(j.Status, to) {
		return &InvalidTransitionError{Entity: "job", ID: j.ID, From: string(j.Status), To: string(to)}
	}

	switch to {
	case JobStatusInProgress:
		j.StartedAt = &at
	case JobStatusCompleted:
		j.CompletedAt = &at
	case JobStatusCancelled:
		j.CancelledAt = &at
		j.ActiveOfferID = ""
	}

	j.Status = to
	j.UpdatedAt = at
	return nil
}

// MarkOffered moves a pending job to offered and records the open offer
func (j *Job) MarkOffered(offerID string, at time.Time) error {
	if j.ActiveOfferID != "" {
		return &InvalidTransitionError{Entity: "job", ID: j.ID, From: string(j.Status), To: string(JobStatusOffered)}
	}
	if err := j.Transition(JobStatusOffered, at); err != nil {
		return err
	}
	j.ActiveOfferID = offerID
	return nil
}

// Assign moves an offered job to assigned
func (j *Job) Assign(staffID string, at time.Time) error {
	if err := j.Transition(JobStatusAssigned, at); err != nil {
		return err
	}
	j.Assignment = &Assignment{StaffID: staffID, AssignedAt: at}
	j.ActiveOfferID = ""
	return nil
}

// Rollback returns an offered job to pending after its offer closed without acceptance
func (j *Job) Rollback(at time.Time) error {
	if !CanRollback(j.Status, JobStatusPending) {
		return &InvalidTransitionError{Entity: "job", ID: j.ID, From: string(j.Status), To: string(JobStatusPending)}
	}
	j.Status = JobStatusPending
	j.ActiveOfferID = ""
	j.UpdatedAt = at
	return nil
}
