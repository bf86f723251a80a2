package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"skynet/internal/models"
)

// MemoryStore keeps bookings and escalations in process memory.
// Writers are serialized by txMu; data access is guarded by mu.
type MemoryStore struct {
	txMu        sync.Mutex
	mu          sync.RWMutex
	bookings    map[string]*models.Booking
	escalations map[string]*models.Escalation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:    make(map[string]*models.Booking),
		escalations: make(map[string]*models.Escalation),
	}
}

// RunInTx runs fn while holding the writer lock. Changes made by fn are not
// rolled back on error, so fn must validate before it writes.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) FindActiveBookings(_ context.Context, q OverlapQuery) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if !b.IsActive() || b.ID == q.ExcludeID {
			continue
		}
		switch q.Role {
		case models.ResourceInstructor:
			if b.InstructorID == nil || *b.InstructorID != q.ResourceID {
				continue
			}
		case models.ResourceStudent:
			if b.StudentID != q.ResourceID {
				continue
			}
		default:
			continue
		}
		if b.OverlapsRange(q.Start, q.End) {
			out = append(out, *b.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) UpdateBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	s.bookings[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) GetEscalation(_ context.Context, id string) (*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escalations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *MemoryStore) CreateEscalation(_ context.Context, e *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.escalations[e.ID] = &c
	return nil
}

func (s *MemoryStore) UpdateEscalation(_ context.Context, e *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; !ok {
		return ErrNotFound
	}
	c := *e
	s.escalations[e.ID] = &c
	return nil
}

func (s *MemoryStore) HasUnresolvedEscalation(_ context.Context, bookingID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.escalations {
		if e.BookingID == bookingID && e.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ResolveEscalationsForBooking(_ context.Context, bookingID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.escalations {
		if e.BookingID == bookingID && e.IsOpen() {
			resolvedAt := at
			e.Status = models.EscalationResolved
			e.ResolvedAt = &resolvedAt
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListBookings(_ context.Context, f BookingFilter) ([]models.Booking, int, error) {
	s.mu.RLock()
	var matched []models.Booking
	for _, b := range s.bookings {
		if b.TenantID != f.TenantID {
			continue
		}
		if f.StudentID != "" && b.StudentID != f.StudentID {
			continue
		}
		if f.ParticipantID != "" && !b.Involves(f.ParticipantID) {
			continue
		}
		if f.From != nil && b.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && b.EndTime.After(*f.To) {
			continue
		}
		matched = append(matched, *b.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartTime.Before(matched[j].StartTime)
	})
	return paginate(matched, f.Offset, f.Limit), len(matched), nil
}

func (s *MemoryStore) ListEscalations(_ context.Context, f EscalationFilter) ([]models.Escalation, int, error) {
	s.mu.RLock()
	var matched []models.Escalation
	for _, e := range s.escalations {
		if e.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		matched = append(matched, *e)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, f.Offset, f.Limit), len(matched), nil
}

func (s *MemoryStore) ListUnassignedRequested(_ context.Context, startsAfter time.Time) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.Status == models.StatusRequested && !b.HasInstructor() && b.StartTime.After(startsAfter) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
