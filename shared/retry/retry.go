package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls how Do retries
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single call.
	MaxAttempts int
	// BaseDelay scales the wait after attempt n as BaseDelay * n * n
	BaseDelay time.Duration
	// ShouldRetry stops retrying early when it returns false. Nil retries every error.
	ShouldRetry func(err error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, attempts run out, ShouldRetry refuses or ctx is done
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.BaseDelay * time.Duration(attempt*attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return err
}
