// Package escalation schedules the delayed instructor-assignment check for
// new bookings, runs it, and resolves escalations once they are addressed.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"skynet/internal/jobs"
	"skynet/internal/metrics"
	"skynet/internal/models"
)

// JobKind identifies escalation checks in the job queue.
const JobKind = "booking-escalation"

// DefaultLead is how long before the start the check fires.
const DefaultLead = 48 * time.Hour

// JobKey is the idempotency key of a booking's check.
func JobKey(bookingID string) string {
	return "escalation-" + bookingID
}

// Payload is the job body.
type Payload struct {
	BookingID string `json:"bookingId"`
	TenantID  string `json:"tenantId"`
}

// Scheduler enqueues escalation checks.
type Scheduler struct {
	queue  jobs.Queue
	lead   time.Duration
	retry  jobs.RetryConfig
	now    func() time.Time
	logger zerolog.Logger
}

func NewScheduler(queue jobs.Queue, lead time.Duration, logger *zerolog.Logger) *Scheduler {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Scheduler{
		queue: queue,
		lead:  lead,
		retry: jobs.RetryConfig{
			MaxAttempts: 3,
			RetryDelays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond},
		},
		now:    time.Now,
		logger: logger.With().Str("component", "escalation_scheduler").Logger(),
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// FireTime returns when the check for a booking starting at start should run.
// Bookings closer than the lead time are checked immediately.
func (s *Scheduler) FireTime(start time.Time) time.Time {
	fireAt := start.Add(-s.lead)
	if now := s.now(); fireAt.Before(now) {
		return now
	}
	return fireAt
}

// ScheduleCheck enqueues the check for b. Enqueueing the same booking twice
// keeps the first job. Enqueue failures are retried briefly before the error
// is returned.
func (s *Scheduler) ScheduleCheck(ctx context.Context, b *models.Booking) error {
	payload, err := json.Marshal(Payload{BookingID: b.ID, TenantID: b.TenantID})
	if err != nil {
		return err
	}
	job := jobs.Job{
		Key:     JobKey(b.ID),
		Kind:    JobKind,
		Payload: payload,
		FireAt:  s.FireTime(b.StartTime),
	}

	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		added, err := s.queue.Schedule(ctx, job)
		if err == nil {
			if added {
				metrics.IncJob(JobKind, "scheduled")
				s.logger.Debug().Str("booking_id", b.ID).Time("fire_at", job.FireAt).Msg("Escalation check scheduled")
			} else {
				metrics.IncJob(JobKind, "duplicate")
			}
			return nil
		}
		lastErr = err

		if attempt == s.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.Delay(attempt)):
		}
	}
	return fmt.Errorf("schedule escalation check for booking %s: %w", b.ID, lastErr)
}
