package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/telemetry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case delivery, ok := <-w.jobsChan:
			if !ok {
				w.logger.Debug("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}
			w.handle(ctx, workerName, delivery)
		}
	}
}

// handle processes one delivery and settles it with the broker
func (w *Worker) handle(ctx context.Context, workerName string, delivery amqp.Delivery) {
	err := w.processDelivery(ctx, delivery)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.String("error", ackErr.Error()),
			)
			return
		}
		telemetry.DeliveriesProcessed.WithLabelValues("delivered").Inc()
		return
	}

	requeue := shouldRequeue(err)
	w.logger.Error("Notification delivery failed",
		slog.String("worker_name", workerName),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", nackErr.Error()),
		)
		return
	}
	telemetry.DeliveriesProcessed.WithLabelValues(failureOutcome(err, requeue)).Inc()
}

// shouldRequeue determines if a delivery should be requeued based on the error type
func shouldRequeue(err error) bool {
	if errors.Is(err, ErrInvalidEnvelope) {
		return false
	}
	if errors.Is(err, ErrDeliveryRejected) {
		return false
	}
	if errors.Is(err, ErrMaxRetriesExceeded) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// unknown errors go to the dead-letter queue
	return false
}

func failureOutcome(err error, requeue bool) string {
	switch {
	case requeue:
		return "requeued"
	case errors.Is(err, ErrInvalidEnvelope):
		return "invalid"
	case errors.Is(err, ErrDeliveryRejected):
		return "rejected"
	default:
		return "dead_lettered"
	}
}
