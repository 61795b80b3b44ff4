package worker

import "errors"

var (
	// ErrInvalidEnvelope is returned when a message body cannot be decoded into a notification
	ErrInvalidEnvelope = errors.New("invalid notification envelope")

	// ErrDeliveryRejected is returned when the gateway refuses a notification for good
	ErrDeliveryRejected = errors.New("notification rejected by gateway")

	// ErrMaxRetriesExceeded is returned when a redelivered message fails again
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
