package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

// ListActiveStaff returns the roster of active staff ordered by id
func (s *Storage) ListActiveStaff(ctx context.Context) ([]domain.Staff, error) {
	var rows []staffRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+staffColumns+` FROM staff WHERE is_active = TRUE ORDER BY staff_id`)
	if err != nil {
		return nil, s.wrapErr("list staff", err)
	}

	staff := make([]domain.Staff, len(rows))
	for i := range rows {
		staff[i] = rows[i].toDomain()
	}
	return staff, nil
}

// GetStaffByID retrieves one staff member
func (s *Storage) GetStaffByID(ctx context.Context, staffID string) (*domain.Staff, error) {
	var row staffRow
	err := s.db.GetContext(ctx, &row, `SELECT `+staffColumns+` FROM staff WHERE staff_id = $1`, staffID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStaffNotFound
		}
		return nil, s.wrapErr("get staff", err)
	}
	staff := row.toDomain()
	return &staff, nil
}
