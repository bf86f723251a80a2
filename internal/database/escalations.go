package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skynet/internal/models"
	"skynet/internal/repository"
)

const escalationColumns = `id, booking_id, tenant_id, message, status, created_at, resolved_at`

func scanEscalation(row rowScanner) (*models.Escalation, error) {
	var (
		e          models.Escalation
		status     string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.BookingID, &e.TenantID, &e.Message, &status, &e.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	e.Status = models.EscalationStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *store) GetEscalation(ctx context.Context, id string) (*models.Escalation, error) {
	e, err := scanEscalation(s.q.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation %s: %w", id, err)
	}
	return e, nil
}

func (s *store) CreateEscalation(ctx context.Context, e *models.Escalation) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO escalations (`+escalationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BookingID, e.TenantID, e.Message, string(e.Status), e.CreatedAt.UTC(), nullableTime(e.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (s *store) UpdateEscalation(ctx context.Context, e *models.Escalation) error {
	res, err := s.q.ExecContext(ctx, `UPDATE escalations SET status = ?, resolved_at = ? WHERE id = ?`,
		string(e.Status), nullableTime(e.ResolvedAt), e.ID)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *store) HasUnresolvedEscalation(ctx context.Context, bookingID string) (bool, error) {
	var exists int
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM escalations WHERE booking_id = ? AND status = ?)`,
		bookingID, models.EscalationUnresolved).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open escalation: %w", err)
	}
	return exists == 1, nil
}

func (s *store) ResolveEscalationsForBooking(ctx context.Context, bookingID string, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE escalations SET status = ?, resolved_at = ? WHERE booking_id = ? AND status = ?`,
		models.EscalationResolved, at.UTC(), bookingID, models.EscalationUnresolved)
	if err != nil {
		return 0, fmt.Errorf("resolve escalations: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) ListEscalations(ctx context.Context, f repository.EscalationFilter) ([]models.Escalation, int, error) {
	clause := "tenant_id = ?"
	args := []any{f.TenantID}
	if f.Status != "" {
		clause += " AND status = ?"
		args = append(args, string(f.Status))
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count escalations: %w", err)
	}

	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE ` + clause + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []models.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}
