package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/dispatch"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/telemetry"
	"github.com/robfig/cron/v3"
)

const maxBatchesPerSweep = 50

// Dispatcher is the part of the offer engine the sweep drives
type Dispatcher interface {
	ExpiredOffers(ctx context.Context, limit int) ([]*domain.Offer, error)
	ExpireOffer(ctx context.Context, offerID string) (*dispatch.Expiry, error)
	StrandedJobs(ctx context.Context, limit int) ([]domain.StrandedJob, error)
	ResumeEscalation(ctx context.Context, stranded domain.StrandedJob) (*dispatch.Resumption, error)
}

// Elector decides whether this instance should sweep. Nil means always.
type Elector interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Config controls the sweep cadence
type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1m"
	Schedule  string
	BatchSize int
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Expired   int
	Reoffered int
	Exhausted int
	// Resumed counts pending jobs picked up again after a failed offer
	Resumed int
	// Skipped counts offers and jobs another caller handled first
	Skipped int
	Failed  int
}

// Scheduler periodically expires due offers and escalates their jobs
type Scheduler struct {
	dispatcher Dispatcher
	elector    Elector
	logger     *slog.Logger
	schedule   cron.Schedule
	batchSize  int
}

// NewScheduler creates a new Scheduler
func NewScheduler(dispatcher Dispatcher, elector Elector, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sweep schedule %q: %w", cfg.Schedule, err)
	}

	return &Scheduler{
		dispatcher: dispatcher,
		elector:    elector,
		logger:     logger,
		schedule:   schedule,
		batchSize:  cfg.BatchSize,
	}, nil
}

// Run sweeps on every schedule tick until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Escalation scheduler started", slog.Int("batch_size", s.batchSize))

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			if s.elector != nil {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := s.elector.Release(releaseCtx); err != nil {
					s.logger.Warn("Failed to release leader lock", slog.String("error", err.Error()))
				}
				cancel()
			}
			s.logger.Info("Escalation scheduler stopped")
			return nil
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.elector != nil {
		leader, err := s.elector.Acquire(ctx)
		if err != nil {
			// without the lock every instance sweeps; the guarded expiry keeps that safe
			s.logger.Warn("Leader election failed, sweeping anyway", slog.String("error", err.Error()))
		} else if !leader {
			s.logger.Debug("Not the leader, skipping sweep")
			return
		}
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep expires every offer past its deadline, batch by batch, then resumes
// escalation for jobs a failed offer left pending
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() {
		telemetry.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult
	for batch := 0; batch < maxBatchesPerSweep; batch++ {
		offers, err := s.dispatcher.ExpiredOffers(ctx, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list expired offers: %w", err)
		}

		progressed := false
		for _, offer := range offers {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if s.expire(ctx, offer, &result) {
				progressed = true
			}
		}

		// a short batch is the last one; a batch where nothing moved would repeat itself
		if len(offers) < s.batchSize || !progressed {
			break
		}
	}

	if err := s.resume(ctx, &result); err != nil {
		return result, err
	}

	if result != (SweepResult{}) {
		s.logger.Info("Sweep finished",
			slog.Int("expired", result.Expired),
			slog.Int("reoffered", result.Reoffered),
			slog.Int("exhausted", result.Exhausted),
			slog.Int("resumed", result.Resumed),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed),
			slog.Duration("took", time.Since(start)),
		)
	}
	return result, nil
}

// expire handles one offer and reports whether it left the open set
func (s *Scheduler) expire(ctx context.Context, offer *domain.Offer, result *SweepResult) bool {
	expiry, err := s.dispatcher.ExpireOffer(ctx, offer.ID)
	if errors.Is(err, domain.ErrOfferNotOpen) {
		result.Skipped++
		return true
	}
	if expiry == nil {
		result.Failed++
		s.logger.Error("Failed to expire offer",
			slog.String("offer_id", offer.ID),
			slog.String("job_id", offer.JobID),
			slog.String("error", err.Error()),
		)
		return false
	}

	result.Expired++
	switch {
	case expiry.Next != nil:
		result.Reoffered++
	case expiry.Exhausted:
		result.Exhausted++
	}

	if err != nil {
		// the offer is expired; only the follow-up offer failed
		result.Failed++
		s.logger.Error("Failed to escalate job",
			slog.String("offer_id", offer.ID),
			slog.String("job_id", offer.JobID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// resume restarts escalation for one batch of stranded jobs
func (s *Scheduler) resume(ctx context.Context, result *SweepResult) error {
	stranded, err := s.dispatcher.StrandedJobs(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list stranded jobs: %w", err)
	}

	for _, job := range stranded {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resumed, err := s.dispatcher.ResumeEscalation(ctx, job)
		var transErr *domain.InvalidTransitionError
		switch {
		case errors.Is(err, domain.ErrJobHasOpenOffer), errors.As(err, &transErr):
			result.Skipped++
		case err != nil:
			result.Failed++
			s.logger.Error("Failed to resume escalation",
				slog.String("job_id", job.Job.ID),
				slog.Int("last_attempt", job.LastAttempt),
				slog.String("error", err.Error()),
			)
		default:
			result.Resumed++
			switch {
			case resumed.Offer != nil:
				result.Reoffered++
			case resumed.Exhausted:
				result.Exhausted++
			}
		}
	}
	return nil
}
