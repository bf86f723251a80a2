package database

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skynet/internal/config"
	"skynet/internal/models"
	"skynet/internal/repository"
)

var errSlotTaken = errors.New("slot taken")

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "skynet.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func newBooking(tenant, student string, instructor *string, start time.Time) *models.Booking {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:           uuid.NewString(),
		TenantID:     tenant,
		StudentID:    student,
		InstructorID: instructor,
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		Status:       models.StatusRequested,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestDB_BookingRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	b := newBooking("t1", "stu-1", nil, start)
	require.NoError(t, db.CreateBooking(ctx, b))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.InstructorID)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, models.StatusRequested, got.Status)

	got.InstructorID = strPtr("ins-1")
	got.Status = models.StatusApproved
	require.NoError(t, db.UpdateBooking(ctx, got))

	got, err = db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InstructorID)
	assert.Equal(t, "ins-1", *got.InstructorID)
	assert.Equal(t, models.StatusApproved, got.Status)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	missing := newBooking("t1", "stu-1", nil, start)
	assert.ErrorIs(t, db.UpdateBooking(ctx, missing), repository.ErrNotFound)
}

func TestDB_FindActiveBookings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	active := newBooking("t1", "stu-1", strPtr("ins-1"), start)
	cancelled := newBooking("t1", "stu-2", strPtr("ins-1"), start)
	cancelled.Status = models.StatusCancelled
	later := newBooking("t1", "stu-3", strPtr("ins-1"), start.Add(time.Hour))
	for _, b := range []*models.Booking{active, cancelled, later} {
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	got, err := db.FindActiveBookings(ctx, repository.OverlapQuery{
		ResourceID: "ins-1", Role: models.ResourceInstructor, Start: start, End: start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)

	got, err = db.FindActiveBookings(ctx, repository.OverlapQuery{
		ResourceID: "ins-1", Role: models.ResourceInstructor, Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute), ExcludeID: active.ID,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, later.ID, got[0].ID)

	got, err = db.FindActiveBookings(ctx, repository.OverlapQuery{
		ResourceID: "stu-1", Role: models.ResourceStudent, Start: start.Add(time.Hour), End: start.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, got, "touching intervals do not overlap")
}

func TestDB_ListBookings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.CreateBooking(ctx, newBooking("t1", "stu-1", nil, base.Add(time.Duration(4-i)*24*time.Hour))))
	}
	require.NoError(t, db.CreateBooking(ctx, newBooking("t1", "stu-2", strPtr("ins-1"), base)))
	require.NoError(t, db.CreateBooking(ctx, newBooking("t2", "stu-1", nil, base)))

	page, total, err := db.ListBookings(ctx, repository.BookingFilter{TenantID: "t1", StudentID: "stu-1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].StartTime.Equal(base.Add(48*time.Hour)))
	assert.True(t, page[1].StartTime.Equal(base.Add(72*time.Hour)))

	_, total, err = db.ListBookings(ctx, repository.BookingFilter{TenantID: "t1", ParticipantID: "ins-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	from, to := base.Add(24*time.Hour), base.Add(49*time.Hour)
	page, total, err = db.ListBookings(ctx, repository.BookingFilter{TenantID: "t1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 2)

	unassigned, err := db.ListUnassignedRequested(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, unassigned, 4)
}

func TestDB_Escalations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	b := newBooking("t1", "stu-1", nil, now.Add(24*time.Hour))
	require.NoError(t, db.CreateBooking(ctx, b))

	first := &models.Escalation{ID: uuid.NewString(), BookingID: b.ID, TenantID: "t1", Message: "first", Status: models.EscalationUnresolved, CreatedAt: now}
	second := &models.Escalation{ID: uuid.NewString(), BookingID: b.ID, TenantID: "t1", Message: "second", Status: models.EscalationUnresolved, CreatedAt: now.Add(time.Minute)}
	require.NoError(t, db.CreateEscalation(ctx, first))
	require.NoError(t, db.CreateEscalation(ctx, second))

	open, err := db.HasUnresolvedEscalation(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, open)

	list, total, err := db.ListEscalations(ctx, repository.EscalationFilter{TenantID: "t1", Status: models.EscalationUnresolved, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "second", list[0].Message)

	n, err := db.ResolveEscalationsForBooking(ctx, b.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.ResolveEscalationsForBooking(ctx, b.ID, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := db.GetEscalation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	_, err = db.GetEscalation(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDB_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	b := newBooking("t1", "stu-1", nil, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))

	err := db.RunInTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.CreateBooking(ctx, b))
		return errSlotTaken
	})
	assert.ErrorIs(t, err, errSlotTaken)

	_, err = db.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDB_RunInTxSerializesConflictCheck(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.RunInTx(ctx, func(tx repository.Tx) error {
				existing, err := tx.FindActiveBookings(ctx, repository.OverlapQuery{
					ResourceID: "ins-1", Role: models.ResourceInstructor, Start: start, End: start.Add(time.Hour),
				})
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					return errSlotTaken
				}
				return tx.CreateBooking(ctx, newBooking("t1", uuid.NewString(), strPtr("ins-1"), start))
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, errSlotTaken)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
}

func TestDB_AuditAndExport(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertAuditEntry(ctx, &models.AuditEntry{
		ID: uuid.NewString(), Action: models.ActionScheduleCreated, Entity: models.EntityBooking, EntityID: "b1",
		ActorID: "stu-1", TenantID: "t1", AfterState: []byte(`{"id":"b1"}`), CorrelationID: "req-1", CreatedAt: now,
	}))
	require.NoError(t, db.InsertAuditEntry(ctx, &models.AuditEntry{
		ID: uuid.NewString(), Action: models.ActionScheduleCreated, Entity: models.EntityBooking, EntityID: "b2",
		ActorID: "stu-9", TenantID: "t2", CreatedAt: now,
	}))

	entries, err := db.ListAuditEntries(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"id":"b1"}`, string(entries[0].AfterState))
	assert.Nil(t, entries[0].BeforeState)
	assert.Equal(t, "req-1", entries[0].CorrelationID)

	rows, columns, err := db.GetTableData(ctx, "audit_logs", "t1")
	require.NoError(t, err)
	assert.Contains(t, columns, "correlation_id")
	assert.Len(t, rows, 1)

	_, _, err = db.GetTableData(ctx, "sqlite_master", "t1")
	assert.Error(t, err)
}

func TestBackupService(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.CreateBooking(ctx, newBooking("t1", "stu-1", nil, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))))

	logger := zerolog.New(io.Discard)
	dir := filepath.Join(t.TempDir(), "backups")
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 7}, &logger)

	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	old := filepath.Join(dir, "backup_20000101_000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}
