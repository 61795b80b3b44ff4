// Package worker consumes notification envelopes from RabbitMQ and hands them
// to the notification gateway with a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer is satisfied by *rabbitmq.Client
type Consumer interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Deliverer hands one envelope to the outside world
type Deliverer interface {
	Deliver(ctx context.Context, env *notify.Envelope) error
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Consumer        Consumer
	Deliverer       Deliverer
	WorkerID        string
	Concurrency     int
	PrefetchCount   int
	DeliveryTimeout time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
}

// Worker represents the notification delivery worker
type Worker struct {
	logger          *slog.Logger
	consumer        Consumer
	deliverer       Deliverer
	workerID        string
	concurrency     int
	prefetchCount   int
	deliveryTimeout time.Duration
	retryAttempts   int
	retryBackoff    time.Duration

	jobsChan chan amqp.Delivery
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = cfg.Concurrency * 2
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	return &Worker{
		logger:          cfg.Logger,
		consumer:        cfg.Consumer,
		deliverer:       cfg.Deliverer,
		workerID:        cfg.WorkerID,
		concurrency:     cfg.Concurrency,
		prefetchCount:   cfg.PrefetchCount,
		deliveryTimeout: cfg.DeliveryTimeout,
		retryAttempts:   cfg.RetryAttempts,
		retryBackoff:    cfg.RetryBackoff,
		jobsChan:        make(chan amqp.Delivery),
		stopChan:        make(chan struct{}),
	}
}

// errDeliveriesClosed is returned by Start when the broker closes the consumer
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Start consumes until ctx is cancelled or the broker closes the consumer
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("delivery_timeout", w.deliveryTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	closed := w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))

	if closed {
		return errDeliveriesClosed
	}
	return nil
}

// Stop asks the pool to finish its current deliveries and exit
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
