package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/telemetry"
	"github.com/cuongbtq/turnover-dispatch/shared/retry"
	"github.com/google/uuid"
)

const maxQueryLimit = 1000

// Repository persists audit events
type Repository interface {
	InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error)
}

// Config controls buffering and retries
type Config struct {
	BufferSize    int
	RetryAttempts int
	RetryBackoff  time.Duration
	FlushInterval time.Duration
}

// Recorder writes audit events without ever failing the caller. A failed write is
// parked in a bounded buffer that Run drains in the background; when the buffer is
// full the event is dropped and logged.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	cfg    Config
	buffer chan domain.AuditEvent
}

// NewRecorder creates a new Recorder
func NewRecorder(repo Repository, logger *slog.Logger, cfg Config) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return &Recorder{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		buffer: make(chan domain.AuditEvent, cfg.BufferSize),
	}
}

// Record appends e. It makes one direct attempt and buffers on failure.
func (r *Recorder) Record(ctx context.Context, e domain.AuditEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	err := r.repo.InsertAuditEvent(context.WithoutCancel(ctx), e)
	if err == nil {
		telemetry.AuditWrites.WithLabelValues("direct").Inc()
		return
	}

	r.logger.Warn("Failed to write audit event, buffering",
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
		slog.String("error", err.Error()),
	)
	r.enqueue(e)
}

func (r *Recorder) enqueue(e domain.AuditEvent) bool {
	select {
	case r.buffer <- e:
		telemetry.AuditWrites.WithLabelValues("buffered").Inc()
		telemetry.AuditBufferDepth.Set(float64(len(r.buffer)))
		return true
	default:
		telemetry.AuditWrites.WithLabelValues("dropped").Inc()
		r.logger.Error("Audit buffer full, event dropped",
			slog.String("event_id", e.ID),
			slog.String("event_type", string(e.Type)),
			slog.String("job_id", e.JobID),
			slog.String("offer_id", e.OfferID),
		)
		return false
	}
}

// Pending returns the number of buffered events
func (r *Recorder) Pending() int {
	return len(r.buffer)
}

// Run flushes the buffer every FlushInterval until ctx is done, then makes a last pass
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	r.logger.Info("Audit flusher started", slog.Duration("interval", r.cfg.FlushInterval))

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flushed := r.Flush(shutdownCtx)
			cancel()
			r.logger.Info("Audit flusher stopped",
				slog.Int("flushed", flushed),
				slog.Int("remaining", r.Pending()),
			)
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush writes buffered events with retries and returns how many were written.
// It stops at the first event that still fails, which goes back into the buffer.
func (r *Recorder) Flush(ctx context.Context) int {
	flushed := 0
	for {
		var e domain.AuditEvent
		select {
		case e = <-r.buffer:
		default:
			telemetry.AuditBufferDepth.Set(float64(len(r.buffer)))
			return flushed
		}

		err := retry.Do(ctx, retry.Config{
			MaxAttempts: r.cfg.RetryAttempts,
			BaseDelay:   r.cfg.RetryBackoff,
			ShouldRetry: domain.IsRetryable,
			OnRetry: func(attempt int, err error) {
				r.logger.Debug("Retrying audit write",
					slog.String("event_id", e.ID),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			},
		}, func() error {
			return r.repo.InsertAuditEvent(ctx, e)
		})
		if err != nil && (domain.IsRetryable(err) || ctx.Err() != nil) {
			r.logger.Warn("Audit flush stalled",
				slog.String("event_id", e.ID),
				slog.String("error", err.Error()),
			)
			r.enqueue(e)
			telemetry.AuditBufferDepth.Set(float64(len(r.buffer)))
			return flushed
		}
		if err != nil {
			telemetry.AuditWrites.WithLabelValues("dropped").Inc()
			r.logger.Error("Audit event rejected by store, dropped",
				slog.String("event_id", e.ID),
				slog.String("event_type", string(e.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.AuditWrites.WithLabelValues("flushed").Inc()
		flushed++
	}
}

// Query returns audit events matching filter
func (r *Recorder) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	if filter.Limit < 0 || filter.Limit > maxQueryLimit {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxQueryLimit)}}}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "from", Message: "must be before to"}}}
	}
	return r.repo.QueryAuditEvents(ctx, filter)
}
