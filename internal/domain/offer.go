package domain

import (
	"fmt"
	"slices"
	"time"
)

// OfferStatus is the lifecycle state of an offer
type OfferStatus string

const (
	OfferStatusOpen      OfferStatus = "open"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// Terminal reports whether the offer can no longer change
func (s OfferStatus) Terminal() bool {
	return s != OfferStatusOpen
}

// Creator identifies who opened an offer
type Creator string

const (
	CreatedBySystem Creator = "system"
	CreatedByAdmin  Creator = "admin"
)

// Acceptance is present only on accepted offers
type Acceptance struct {
	StaffID    string    `json:"staff_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Closure is present only on expired or cancelled offers
type Closure struct {
	ClosedAt time.Time `json:"closed_at"`
	ClosedBy string    `json:"closed_by"`
	Reason   string    `json:"reason,omitempty"`
}

// Offer is a time-boxed proposal of one job to a snapshot of eligible staff
type Offer struct {
	ID               string      `json:"offer_id"`
	JobID            string      `json:"job_id"`
	PropertyID       string      `json:"property_id"`
	RequiredRole     Role        `json:"required_role"`
	EligibleStaffIDs []string    `json:"eligible_staff_ids"`
	Status           OfferStatus `json:"status"`
	Acceptance       *Acceptance `json:"acceptance,omitempty"`
	Closure          *Closure    `json:"closure,omitempty"`
	OfferedAt        time.Time   `json:"offered_at"`
	ExpiresAt        time.Time   `json:"expires_at"`
	AttemptNumber    int         `json:"attempt_number"`
	CreatedBy        Creator     `json:"created_by"`
}

// NewOffer builds an open offer for job. expiresAt is clipped to the job start.
func NewOffer(id string, job *Job, eligible []string, attempt int, createdBy Creator, now time.Time, window time.Duration) *Offer {
	expiresAt := now.Add(window)
	if job.ScheduledStart.Before(expiresAt) {
		expiresAt = job.ScheduledStart
	}

	snapshot := slices.Clone(eligible)
	slices.Sort(snapshot)
	snapshot = slices.Compact(snapshot)

	return &Offer{
		ID:               id,
		JobID:            job.ID,
		PropertyID:       job.PropertyID,
		RequiredRole:     job.RequiredRole,
		EligibleStaffIDs: snapshot,
		Status:           OfferStatusOpen,
		OfferedAt:        now,
		ExpiresAt:        expiresAt,
		AttemptNumber:    attempt,
		CreatedBy:        createdBy,
	}
}

// NewManualOffer records an admin assignment as an offer already accepted by staffID
func NewManualOffer(id string, job *Job, staffID string, at time.Time) *Offer {
	offer := NewOffer(id, job, []string{staffID}, 1, CreatedByAdmin, at, 0)
	offer.Status = OfferStatusAccepted
	offer.Acceptance = &Acceptance{StaffID: staffID, AcceptedAt: at}
	return offer
}

// IsEligible reports whether staffID is part of the snapshot
func (o *Offer) IsEligible(staffID string) bool {
	return staffID != "" && slices.Contains(o.EligibleStaffIDs, staffID)
}

// IsExpiredAt is the single deadline comparison shared by accept and the expiry sweep
func (o *Offer) IsExpiredAt(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// CheckAccept returns the reason staffID may not accept the offer at now, or nil
func (o *Offer) CheckAccept(staffID string, now time.Time) error {
	if !o.IsEligible(staffID) {
		return ErrNotEligible
	}
	if o.Status != OfferStatusOpen {
		return ErrOfferUnavailable
	}
	if o.IsExpiredAt(now) {
		return ErrOfferExpired
	}
	return nil
}

// Accept closes the offer in favour of staffID
func (o *Offer) Accept(staffID string, now time.Time) error {
	if err := o.CheckAccept(staffID, now); err != nil {
		return err
	}
	o.Status = OfferStatusAccepted
	o.Acceptance = &Acceptance{StaffID: staffID, AcceptedAt: now}
	return nil
}

// Expire closes an open offer whose deadline passed
func (o *Offer) Expire(now time.Time) error {
	if o.Status != OfferStatusOpen {
		return ErrOfferNotOpen
	}
	if !o.IsExpiredAt(now) {
		return fmt.Errorf("offer %s expires at %s: %w", o.ID, o.ExpiresAt.Format(time.RFC3339), ErrOfferNotOpen)
	}
	o.Status = OfferStatusExpired
	o.Closure = &Closure{ClosedAt: now, ClosedBy: string(CreatedBySystem), Reason: "expired"}
	return nil
}

// Cancel closes an open offer on behalf of an admin
func (o *Offer) Cancel(reason, by string, now time.Time) error {
	if o.Status != OfferStatusOpen {
		return ErrOfferNotOpen
	}
	o.Status = OfferStatusCancelled
	o.Closure = &Closure{ClosedAt: now, ClosedBy: by, Reason: reason}
	return nil
}

// Validate rejects status/payload combinations that cannot occur
func (o *Offer) Validate() error {
	switch o.Status {
	case OfferStatusOpen:
		if o.Acceptance != nil || o.Closure != nil {
			return fmt.Errorf("open offer %s carries closing data", o.ID)
		}
	case OfferStatusAccepted:
		if o.Acceptance == nil || o.Acceptance.StaffID == "" || o.Closure != nil {
			return fmt.Errorf("accepted offer %s has no acceptance", o.ID)
		}
	case OfferStatusExpired, OfferStatusCancelled:
		if o.Closure == nil || o.Acceptance != nil {
			return fmt.Errorf("%s offer %s has no closure", o.Status, o.ID)
		}
	default:
		return fmt.Errorf("offer %s has unknown status %q", o.ID, o.Status)
	}
	if o.AttemptNumber < 1 {
		return fmt.Errorf("offer %s has attempt number %d", o.ID, o.AttemptNumber)
	}
	return nil
}

// AcceptedBy returns the accepting staff member or an empty string
func (o *Offer) AcceptedBy() string {
	if o.Acceptance == nil {
		return ""
	}
	return o.Acceptance.StaffID
}
