package domain

import (
	"strings"
	"time"
)

// MaintenanceRequest is an issue reported against a booking that needs a maintenance visit
type MaintenanceRequest struct {
	Description string   `json:"description"`
	Priority    Priority `json:"priority,omitempty"`
}

// BookingSnapshot is what the booking collaborator hands over once a booking is confirmed
type BookingSnapshot struct {
	BookingID           string               `json:"booking_id"`
	PropertyID          string               `json:"property_id"`
	PropertyName        string               `json:"property_name"`
	GuestName           string               `json:"guest_name"`
	CheckIn             time.Time            `json:"check_in"`
	CheckOut            time.Time            `json:"check_out"`
	Priority            Priority             `json:"priority,omitempty"`
	Notes               string               `json:"notes,omitempty"`
	MaintenanceRequests []MaintenanceRequest `json:"maintenance_requests,omitempty"`
}

// Timing holds the offsets and durations used to schedule jobs from a booking
type Timing struct {
	CleaningStartOffset    time.Duration
	CleaningDuration       time.Duration
	CreateInspection       bool
	InspectionDuration     time.Duration
	MaintenanceStartOffset time.Duration
	MaintenanceDuration    time.Duration
}

// DefaultTiming is used when no timing section is configured
func DefaultTiming() Timing {
	return Timing{
		CleaningStartOffset:    30 * time.Minute,
		CleaningDuration:       3 * time.Hour,
		CreateInspection:       true,
		InspectionDuration:     time.Hour,
		MaintenanceStartOffset: time.Hour,
		MaintenanceDuration:    2 * time.Hour,
	}
}

// Validate checks the snapshot fields required to plan jobs
func (b BookingSnapshot) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(b.BookingID) == "" {
		verr.Add("booking_id", "is required")
	}
	if strings.TrimSpace(b.PropertyID) == "" {
		verr.Add("property_id", "is required")
	}
	if strings.TrimSpace(b.GuestName) == "" {
		verr.Add("guest_name", "is required")
	}
	if strings.TrimSpace(b.PropertyName) == "" {
		verr.Add("property_name", "is required")
	}
	if b.CheckIn.IsZero() {
		verr.Add("check_in", "is required")
	}
	if b.CheckOut.IsZero() {
		verr.Add("check_out", "is required")
	}
	if !b.CheckIn.IsZero() && !b.CheckOut.IsZero() && !b.CheckIn.Before(b.CheckOut) {
		verr.Add("check_out", "must be after check_in")
	}
	if b.Priority != "" && !b.Priority.Valid() {
		verr.Add("priority", "must be one of low, medium, high, critical")
	}
	for _, req := range b.MaintenanceRequests {
		if req.Priority != "" && !req.Priority.Valid() {
			verr.Add("maintenance_requests.priority", "must be one of low, medium, high, critical")
			break
		}
	}
	return verr.OrNil()
}

// PlanJobs derives the pending jobs for a confirmed booking. IDs come from newID.
func PlanJobs(b BookingSnapshot, timing Timing, now time.Time, newID func() string) ([]*Job, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	priority := b.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	newJob := func(jobType JobType, seq int, start time.Time, duration time.Duration, p Priority, notes string) *Job {
		return &Job{
			ID:             newID(),
			BookingID:      b.BookingID,
			PropertyID:     b.PropertyID,
			PropertyName:   b.PropertyName,
			GuestName:      b.GuestName,
			Type:           jobType,
			RequiredRole:   jobType.RequiredRole(),
			Sequence:       seq,
			ScheduledStart: start,
			ScheduledEnd:   start.Add(duration),
			Status:         JobStatusPending,
			Priority:       p,
			Notes:          notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	cleaningStart := b.CheckOut.Add(timing.CleaningStartOffset)
	cleaning := newJob(JobTypeCleaning, 1, cleaningStart, timing.CleaningDuration, priority, b.Notes)
	jobs := []*Job{cleaning}

	if timing.CreateInspection {
		jobs = append(jobs, newJob(JobTypeInspection, 1, cleaning.ScheduledEnd, timing.InspectionDuration, priority, ""))
	}

	maintenanceStart := b.CheckOut.Add(timing.MaintenanceStartOffset)
	for i, req := range b.MaintenanceRequests {
		p := req.Priority
		if p == "" {
			p = priority
		}
		jobs = append(jobs, newJob(JobTypeMaintenance, i+1, maintenanceStart, timing.MaintenanceDuration, p, req.Description))
	}

	return jobs, nil
}
