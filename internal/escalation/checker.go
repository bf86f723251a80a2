package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skynet/internal/events"
	"skynet/internal/jobs"
	"skynet/internal/metrics"
	"skynet/internal/models"
	"skynet/internal/notify"
	"skynet/internal/repository"
)

// Message returns the escalation text for a flight starting at start.
func Message(start time.Time) string {
	return fmt.Sprintf("Booking requires immediate instructor assignment. Flight starts at %s.", start.UTC().Format(time.RFC3339))
}

// Checker runs a scheduled check: a booking that is still REQUESTED without
// an instructor gets an UNRESOLVED escalation and staff are notified.
type Checker struct {
	store    repository.Store
	events   events.Publisher
	notifier notify.Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

func NewChecker(store repository.Store, publisher events.Publisher, notifier notify.Notifier, logger *zerolog.Logger) *Checker {
	return &Checker{
		store:    store,
		events:   publisher,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With().Str("component", "escalation_checker").Logger(),
	}
}

// SetClock overrides the time source.
func (c *Checker) SetClock(now func() time.Time) {
	c.now = now
}

// Handle is the jobs.Handler for JobKind.
func (c *Checker) Handle(ctx context.Context, job jobs.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.BookingID == "" {
		return jobs.Permanent(fmt.Errorf("decode escalation payload %q: %w", job.Key, err))
	}
	_, err := c.Check(ctx, p.BookingID)
	return err
}

// Check evaluates one booking and returns the escalation it created, if any.
func (c *Checker) Check(ctx context.Context, bookingID string) (*models.Escalation, error) {
	log := c.logger.With().Str("booking_id", bookingID).Logger()

	var (
		created *models.Escalation
		booking *models.Booking
		outcome string
	)
	err := c.store.RunInTx(ctx, func(tx repository.Tx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			outcome = "missing"
			return nil
		}
		if err != nil {
			return err
		}
		booking = b

		if b.Status != models.StatusRequested || b.HasInstructor() {
			outcome = "noop"
			return nil
		}

		// A redelivered job must not open a second escalation.
		open, err := tx.HasUnresolvedEscalation(ctx, b.ID)
		if err != nil {
			return err
		}
		if open {
			outcome = "duplicate"
			return nil
		}

		e := &models.Escalation{
			ID:        uuid.NewString(),
			BookingID: b.ID,
			TenantID:  b.TenantID,
			Message:   Message(b.StartTime),
			Status:    models.EscalationUnresolved,
			CreatedAt: c.now(),
		}
		if err := tx.CreateEscalation(ctx, e); err != nil {
			return err
		}
		created = e
		outcome = "escalated"
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("escalation check for booking %s: %w", bookingID, err)
	}

	metrics.IncEscalationCheck(outcome)

	switch outcome {
	case "missing":
		log.Info().Msg("Booking no longer exists, skipping escalation check")
		return nil, nil
	case "noop":
		log.Info().Str("status", string(booking.Status)).Bool("has_instructor", booking.HasInstructor()).
			Msg("Booking no longer needs escalation")
		return nil, nil
	case "duplicate":
		log.Info().Msg("Booking already has an open escalation")
		return nil, nil
	}

	log.Warn().Str("escalation_id", created.ID).Str("tenant_id", created.TenantID).Msg("Escalation triggered")

	c.events.Publish(ctx, events.Event{
		Type:     events.TypeEscalationTriggered,
		TenantID: created.TenantID,
		ActorID:  models.SystemActorID,
		Entity:   models.EntityEscalation,
		EntityID: created.ID,
		After:    created,
	})

	if err := c.notifier.Notify(ctx, notify.Alert{
		TenantID:     created.TenantID,
		BookingID:    booking.ID,
		EscalationID: created.ID,
		StudentID:    booking.StudentID,
		Message:      created.Message,
		StartTime:    booking.StartTime,
	}); err != nil {
		log.Error().Err(err).Str("escalation_id", created.ID).Msg("Failed to notify staff about escalation")
	}

	return created, nil
}
