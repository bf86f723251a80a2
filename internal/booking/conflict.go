package booking

import (
	"context"
	"fmt"
	"time"

	"skynet/internal/models"
	"skynet/internal/repository"
)

// Finder returns candidate bookings for a resource; the store may pre-filter
// by time window but the detector re-checks the overlap itself.
type Finder interface {
	FindActiveBookings(ctx context.Context, q repository.OverlapQuery) ([]models.Booking, error)
}

// ConflictDetector decides whether a resource is already booked for a window.
type ConflictDetector struct{}

func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// HasConflict reports whether any non-cancelled booking of resourceID other
// than excludeID overlaps [start, end). Pass a transaction as finder when the
// result guards a write.
func (d *ConflictDetector) HasConflict(ctx context.Context, finder Finder, resourceID string, role models.ResourceRole, start, end time.Time, excludeID string) (bool, error) {
	candidates, err := finder.FindActiveBookings(ctx, repository.OverlapQuery{
		ResourceID: resourceID,
		Role:       role,
		Start:      start,
		End:        end,
		ExcludeID:  excludeID,
	})
	if err != nil {
		return false, fmt.Errorf("find %s bookings: %w", role, err)
	}

	for i := range candidates {
		b := &candidates[i]
		if b.ID == excludeID || !b.IsActive() {
			continue
		}
		if b.OverlapsRange(start, end) {
			return true, nil
		}
	}
	return false, nil
}
