package escalation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"skynet/internal/events"
	"skynet/internal/metrics"
	"skynet/internal/models"
	"skynet/internal/repository"
)

// Resolver closes open escalations once their booking has been addressed.
type Resolver struct {
	events events.Publisher
	logger zerolog.Logger
}

func NewResolver(publisher events.Publisher, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		events: publisher,
		logger: logger.With().Str("component", "escalation_resolver").Logger(),
	}
}

// ShouldResolve reports whether an update from before to after addresses the
// booking's escalations: an instructor was assigned or the booking was cancelled.
func ShouldResolve(before, after *models.Booking) bool {
	assigned := after.HasInstructor() && (!before.HasInstructor() || *before.InstructorID != *after.InstructorID)
	cancelled := after.Status == models.StatusCancelled && before.Status != models.StatusCancelled
	return assigned || cancelled
}

func resolutionSource(after *models.Booking) string {
	if after.Status == models.StatusCancelled {
		return "cancellation"
	}
	return "assignment"
}

// Resolve marks every UNRESOLVED escalation of after as RESOLVED using tx, so
// it commits together with the booking update. Running it again is a no-op.
func (r *Resolver) Resolve(ctx context.Context, tx repository.Tx, after *models.Booking, at time.Time) (int64, error) {
	n, err := tx.ResolveEscalationsForBooking(ctx, after.ID, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info().Str("booking_id", after.ID).Int64("resolved", n).Msg("Escalations resolved")
	}
	return n, nil
}

// Report announces resolutions after the transaction committed.
func (r *Resolver) Report(ctx context.Context, after *models.Booking, n int64, actorID, correlationID string) {
	if n <= 0 {
		return
	}
	metrics.AddEscalationsResolved(resolutionSource(after), n)
	r.events.Publish(ctx, events.Event{
		Type:          events.TypeEscalationsResolved,
		TenantID:      after.TenantID,
		ActorID:       actorID,
		Entity:        models.EntityBooking,
		EntityID:      after.ID,
		CorrelationID: correlationID,
	})
}
