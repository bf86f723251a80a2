// Package repository declares the persistence ports used by the booking
// services and provides an in-memory implementation.
package repository

import (
	"context"
	"errors"
	"time"

	"skynet/internal/models"
)

// ErrNotFound is returned when a booking or escalation does not exist.
var ErrNotFound = errors.New("record not found")

// OverlapQuery selects the active bookings of one resource that may overlap [Start, End).
type OverlapQuery struct {
	ResourceID string
	Role       models.ResourceRole
	Start      time.Time
	End        time.Time
	ExcludeID  string
}

// BookingFilter narrows a tenant's booking listing.
type BookingFilter struct {
	TenantID string
	// StudentID restricts results to one student's bookings.
	StudentID string
	// ParticipantID matches either the student or the instructor.
	ParticipantID string
	// From and To keep bookings with StartTime >= From and EndTime <= To.
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// EscalationFilter narrows a tenant's escalation listing.
type EscalationFilter struct {
	TenantID string
	Status   models.EscalationStatus
	Limit    int
	Offset   int
}

// Tx is the set of operations available inside a write transaction.
// Every implementation also offers them outside a transaction through Store.
type Tx interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindActiveBookings(ctx context.Context, q OverlapQuery) ([]models.Booking, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error

	GetEscalation(ctx context.Context, id string) (*models.Escalation, error)
	CreateEscalation(ctx context.Context, e *models.Escalation) error
	UpdateEscalation(ctx context.Context, e *models.Escalation) error
	HasUnresolvedEscalation(ctx context.Context, bookingID string) (bool, error)
	ResolveEscalationsForBooking(ctx context.Context, bookingID string, at time.Time) (int64, error)
}

// Store is the booking store. RunInTx serializes writers so a conflict
// check and the write that depends on it cannot interleave with another writer.
type Store interface {
	Tx
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, int, error)
	ListEscalations(ctx context.Context, f EscalationFilter) ([]models.Escalation, int, error)
	// ListUnassignedRequested returns REQUESTED bookings without an instructor starting after t.
	ListUnassignedRequested(ctx context.Context, startsAfter time.Time) ([]models.Booking, error)
}
