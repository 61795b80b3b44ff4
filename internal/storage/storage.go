package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for jobs, offers, staff and audit events
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// withTx runs fn in a transaction. Domain errors returned by fn roll back and pass through unchanged.
func (s *Storage) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.wrapErr(op, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to rollback transaction",
				slog.String("op", op),
				slog.String("error", rbErr.Error()),
			)
		}
		return s.wrapErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrapErr(op, err)
	}
	return nil
}

// wrapErr classifies driver errors. Transient failures become StoreUnavailableError,
// domain outcomes are returned as they are.
func (s *Storage) wrapErr(op string, err error) error {
	var storeErr *domain.StoreUnavailableError
	var transErr *domain.InvalidTransitionError
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &storeErr), errors.As(err, &transErr), errors.As(err, &validationErr):
		return err
	case isDomainSentinel(err):
		return err
	case postgresql.IsTransient(err):
		return &domain.StoreUnavailableError{Op: op, Err: err}
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

func isDomainSentinel(err error) bool {
	for _, target := range []error{
		domain.ErrJobNotFound,
		domain.ErrOfferNotFound,
		domain.ErrOfferUnavailable,
		domain.ErrNotEligible,
		domain.ErrOfferExpired,
		domain.ErrOfferNotOpen,
		domain.ErrJobHasOpenOffer,
		domain.ErrStaffNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// expectOneRow turns a zero-row guarded update into errOnZero
func expectOneRow(res sql.Result, errOnZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errOnZero
	}
	return nil
}
