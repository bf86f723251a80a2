package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"skynet/internal/models"
	"skynet/internal/repository"
)

const bookingColumns = `id, tenant_id, student_id, instructor_id, start_time, end_time, status, cancellation_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		instructor sql.NullString
		status     string
	)
	if err := row.Scan(&b.ID, &b.TenantID, &b.StudentID, &instructor, &b.StartTime, &b.EndTime,
		&status, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if instructor.Valid {
		id := instructor.String
		b.InstructorID = &id
	}
	b.Status = models.BookingStatus(status)
	return &b, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

func (s *store) FindActiveBookings(ctx context.Context, q repository.OverlapQuery) ([]models.Booking, error) {
	var column string
	switch q.Role {
	case models.ResourceInstructor:
		column = "instructor_id"
	case models.ResourceStudent:
		column = "student_id"
	default:
		return nil, fmt.Errorf("unknown resource role %q", q.Role)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE ` + column + ` = ? AND status != ? AND start_time < ? AND end_time > ? AND id != ?
		ORDER BY start_time`
	rows, err := s.q.QueryContext(ctx, query, q.ResourceID, models.StatusCancelled, q.End.UTC(), q.Start.UTC(), q.ExcludeID)
	if err != nil {
		return nil, fmt.Errorf("find active bookings: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *store) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.StudentID, nullableString(b.InstructorID), b.StartTime.UTC(), b.EndTime.UTC(),
		string(b.Status), b.CancellationReason, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *store) UpdateBooking(ctx context.Context, b *models.Booking) error {
	res, err := s.q.ExecContext(ctx, `UPDATE bookings
		SET instructor_id = ?, start_time = ?, end_time = ?, status = ?, cancellation_reason = ?, updated_at = ?
		WHERE id = ?`,
		nullableString(b.InstructorID), b.StartTime.UTC(), b.EndTime.UTC(), string(b.Status), b.CancellationReason, b.UpdatedAt.UTC(), b.ID)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (db *DB) ListBookings(ctx context.Context, f repository.BookingFilter) ([]models.Booking, int, error) {
	where := []string{"tenant_id = ?"}
	args := []any{f.TenantID}

	if f.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.ParticipantID != "" {
		where = append(where, "(student_id = ? OR instructor_id = ?)")
		args = append(args, f.ParticipantID, f.ParticipantID)
	}
	if f.From != nil {
		where = append(where, "start_time >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "end_time <= ?")
		args = append(args, f.To.UTC())
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + clause + ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan bookings: %w", err)
	}
	return bookings, total, nil
}

func (db *DB) ListUnassignedRequested(ctx context.Context, startsAfter time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND instructor_id IS NULL AND start_time > ?
		ORDER BY start_time`, models.StatusRequested, startsAfter.UTC())
	if err != nil {
		return nil, fmt.Errorf("list unassigned bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}
