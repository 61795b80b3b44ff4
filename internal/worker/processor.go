package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/notify"
	"github.com/cuongbtq/turnover-dispatch/shared/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// processDelivery decodes one message and delivers it, retrying transient
// gateway failures in place before giving the message back to the broker
func (w *Worker) processDelivery(ctx context.Context, delivery amqp.Delivery) error {
	env, err := notify.DecodeEnvelope(delivery.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	w.logger.Debug("Delivering notification",
		slog.String("envelope_id", env.ID),
		slog.String("kind", string(env.Kind)),
		slog.String("job_id", env.Job.ID),
		slog.Bool("redelivered", delivery.Redelivered),
	)

	deliverCtx, cancel := context.WithTimeout(ctx, w.deliveryTimeout)
	defer cancel()

	err = retry.Do(deliverCtx, retry.Config{
		MaxAttempts: w.retryAttempts,
		BaseDelay:   w.retryBackoff,
		ShouldRetry: domain.IsRetryable,
		OnRetry: func(attempt int, err error) {
			w.logger.Warn("Retrying notification delivery",
				slog.String("envelope_id", env.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		return w.deliverer.Deliver(deliverCtx, env)
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return domain.NewRetryableError(fmt.Errorf("delivery of %s interrupted by shutdown: %w", env.ID, err))
	}
	if deliverCtx.Err() != nil {
		err = domain.NewRetryableError(err)
	}

	if !domain.IsRetryable(err) {
		return fmt.Errorf("failed to deliver %s notification %s: %w", env.Kind, env.ID, err)
	}
	// the broker gets one more go at a transient failure
	if delivery.Redelivered {
		return fmt.Errorf("%w: notification %s: %v", ErrMaxRetriesExceeded, env.ID, err)
	}
	return fmt.Errorf("failed to deliver %s notification %s: %w", env.Kind, env.ID, err)
}
