package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrOfferNotFound is returned when an offer cannot be found in the database
	ErrOfferNotFound = errors.New("offer not found")

	// ErrOfferUnavailable is returned when the offer was already accepted, expired or cancelled,
	// or the job moved on. Losing the accept race ends here.
	ErrOfferUnavailable = errors.New("offer_unavailable")

	// ErrNotEligible is returned when the staff member is not part of the offer snapshot
	ErrNotEligible = errors.New("not_eligible")

	// ErrOfferExpired is returned when the offer deadline passed before acceptance
	ErrOfferExpired = errors.New("expired")

	// ErrOfferNotOpen is returned when cancelling or expiring an offer that is already closed
	ErrOfferNotOpen = errors.New("offer is not open")

	// ErrJobHasOpenOffer is returned when a second open offer would be created for a job
	ErrJobHasOpenOffer = errors.New("job already has an open offer")

	// ErrStaffNotFound is returned when a staff member does not exist in the roster
	ErrStaffNotFound = errors.New("staff not found")
)

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed job or offer input. It is never persisted.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field failure
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e if any field failed, nil otherwise
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InvalidTransitionError is returned when a status change is not permitted from the current state
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// StoreUnavailableError wraps transient infrastructure failures. The whole operation is safe to retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return "store unavailable during " + e.Op + ": " + e.Err.Error()
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is worth retrying as a whole
func IsRetryable(err error) bool {
	var storeErr *StoreUnavailableError
	var retryErr *RetryableError
	return errors.As(err, &storeErr) || errors.As(err, &retryErr)
}

// IsAcceptRejection reports whether err is an expected accept outcome rather than a failure
func IsAcceptRejection(err error) bool {
	return errors.Is(err, ErrOfferUnavailable) || errors.Is(err, ErrNotEligible) || errors.Is(err, ErrOfferExpired)
}
