package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

const defaultAuditLimit = 100

// InsertAuditEvent appends one audit event. Rows are never updated or deleted.
func (s *Storage) InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	query := `
		INSERT INTO audit_events (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`

	var attempt sql.NullInt64
	if e.AttemptNumber > 0 {
		attempt = sql.NullInt64{Int64: int64(e.AttemptNumber), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Type,
		nullString(e.JobID),
		nullString(e.OfferID),
		nullString(e.StaffID),
		e.Actor,
		attempt,
		nullJSON(e.Detail),
		e.OccurredAt,
	)
	if err != nil {
		return s.wrapErr("insert audit event", err)
	}
	return nil
}

// QueryAuditEvents returns audit events matching filter in occurrence order
func (s *Storage) QueryAuditEvents(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}

	if filter.OfferID != "" {
		query += fmt.Sprintf(" AND offer_id = $%d", argIdx)
		args = append(args, filter.OfferID)
		argIdx++
	}

	if filter.StaffID != "" {
		query += fmt.Sprintf(" AND staff_id = $%d", argIdx)
		args = append(args, filter.StaffID)
		argIdx++
	}

	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, filter.From)
		argIdx++
	}

	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND occurred_at < $%d", argIdx)
		args = append(args, filter.To)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	query += fmt.Sprintf(" ORDER BY occurred_at, event_id LIMIT $%d", argIdx)
	args = append(args, limit)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, s.wrapErr("query audit events", err)
	}

	events := make([]domain.AuditEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toDomain()
	}
	return events, nil
}
