package escalation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"skynet/internal/models"
)

// UnassignedLister lists bookings that may still need an escalation check.
type UnassignedLister interface {
	ListUnassignedRequested(ctx context.Context, startsAfter time.Time) ([]models.Booking, error)
}

// Reconciler re-enqueues checks for open unassigned bookings. Scheduling is
// idempotent by key, so bookings whose check is already known are untouched;
// this repairs checks lost when an enqueue failed after the booking committed.
type Reconciler struct {
	bookings  UnassignedLister
	scheduler *Scheduler
	now       func() time.Time
	logger    zerolog.Logger
}

func NewReconciler(bookings UnassignedLister, scheduler *Scheduler, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{
		bookings:  bookings,
		scheduler: scheduler,
		now:       time.Now,
		logger:    logger.With().Str("component", "escalation_reconciler").Logger(),
	}
}

// RunOnce schedules a check for every future unassigned REQUESTED booking.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	bookings, err := r.bookings.ListUnassignedRequested(ctx, r.now())
	if err != nil {
		return 0, err
	}

	failed := 0
	for i := range bookings {
		if err := r.scheduler.ScheduleCheck(ctx, &bookings[i]); err != nil {
			failed++
			r.logger.Error().Err(err).Str("booking_id", bookings[i].ID).Msg("Failed to reconcile escalation check")
		}
	}
	r.logger.Debug().Int("bookings", len(bookings)).Int("failed", failed).Msg("Escalation checks reconciled")
	return len(bookings) - failed, nil
}

// Start runs RunOnce immediately and then every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Escalation reconciliation failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
