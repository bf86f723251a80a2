package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skynet/internal/apperror"
	"skynet/internal/booking"
	"skynet/internal/escalation"
	"skynet/internal/events"
	"skynet/internal/metrics"
	"skynet/internal/models"
	"skynet/internal/repository"
)

// EscalationScheduler enqueues the delayed instructor-assignment check.
type EscalationScheduler interface {
	ScheduleCheck(ctx context.Context, b *models.Booking) error
}

// Options tunes the booking service.
type Options struct {
	LeadTime        time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

type BookingService struct {
	store     repository.Store
	validator *booking.Validator
	detector  *booking.ConflictDetector
	fsm       *booking.StatusMachine
	scheduler EscalationScheduler
	resolver  *escalation.Resolver
	events    events.Publisher
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
}

func NewBookingService(
	store repository.Store,
	scheduler EscalationScheduler,
	resolver *escalation.Resolver,
	publisher events.Publisher,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	return &BookingService{
		store:     store,
		validator: booking.NewValidator(opts.LeadTime),
		detector:  booking.NewConflictDetector(),
		fsm:       booking.NewStatusMachine(),
		scheduler: scheduler,
		resolver:  resolver,
		events:    publisher,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With().Str("component", "booking_service").Logger(),
	}
}

// SetClock overrides the time source.
func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

type CreateBookingInput struct {
	Actor         models.Actor
	InstructorID  *string
	StartTime     time.Time
	EndTime       time.Time
	CorrelationID string
}

// CreateBooking creates a REQUESTED booking for the calling student and
// schedules its escalation check.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	b, err := s.createBooking(ctx, in)
	if err != nil {
		metrics.IncBookingRejected("create", string(apperror.KindOf(err)))
		return nil, err
	}
	return b, nil
}

func (s *BookingService) createBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	if in.Actor.Role != models.RoleStudent {
		return nil, apperror.Authorization(apperror.MsgNotAuthorized)
	}

	now := s.now()
	if err := s.validator.Validate(in.StartTime, in.EndTime, now); err != nil {
		return nil, err
	}

	var instructorID *string
	if in.InstructorID != nil && *in.InstructorID != "" {
		id := *in.InstructorID
		instructorID = &id
	}

	b := &models.Booking{
		ID:           uuid.NewString(),
		TenantID:     in.Actor.TenantID,
		StudentID:    in.Actor.UserID,
		InstructorID: instructorID,
		StartTime:    in.StartTime.UTC(),
		EndTime:      in.EndTime.UTC(),
		Status:       models.StatusRequested,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}

	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		if b.HasInstructor() {
			busy, err := s.detector.HasConflict(ctx, tx, *b.InstructorID, models.ResourceInstructor, b.StartTime, b.EndTime, "")
			if err != nil {
				return err
			}
			if busy {
				return apperror.Conflict(apperror.MsgInstructorBusy)
			}
		}

		busy, err := s.detector.HasConflict(ctx, tx, b.StudentID, models.ResourceStudent, b.StartTime, b.EndTime, "")
		if err != nil {
			return err
		}
		if busy {
			return apperror.Conflict(apperror.MsgStudentBusy)
		}

		return tx.CreateBooking(ctx, b)
	})
	if err != nil {
		return nil, wrapInfra("create booking", err)
	}

	metrics.IncBookingCreated(string(b.Status))
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("tenant_id", b.TenantID).
		Str("student_id", b.StudentID).
		Time("start_time", b.StartTime).
		Msg("Booking created")

	s.events.Publish(ctx, events.Event{
		Type:          events.TypeScheduleCreated,
		TenantID:      b.TenantID,
		ActorID:       in.Actor.UserID,
		Entity:        models.EntityBooking,
		EntityID:      b.ID,
		After:         b,
		CorrelationID: in.CorrelationID,
	})

	// The booking is committed at this point. A failed enqueue is repaired by
	// the escalation reconciler, so it is logged instead of failing the request.
	if err := s.scheduler.ScheduleCheck(ctx, b); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to schedule escalation check")
	}

	return b, nil
}

type UpdateBookingInput struct {
	Actor              models.Actor
	BookingID          string
	Status             *models.BookingStatus
	InstructorID       *string
	CancellationReason *string
	CorrelationID      string
}

// UpdateBooking changes status, instructor or cancellation reason of a booking.
func (s *BookingService) UpdateBooking(ctx context.Context, in UpdateBookingInput) (*models.Booking, error) {
	b, err := s.updateBooking(ctx, in)
	if err != nil {
		metrics.IncBookingRejected("update", string(apperror.KindOf(err)))
		return nil, err
	}
	return b, nil
}

func (s *BookingService) updateBooking(ctx context.Context, in UpdateBookingInput) (*models.Booking, error) {
	var (
		before, after *models.Booking
		resolved      int64
	)
	now := s.now().UTC()

	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		current, err := tx.GetBooking(ctx, in.BookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound(apperror.MsgBookingNotFound)
		}
		if err != nil {
			return err
		}
		if current.TenantID != in.Actor.TenantID {
			return apperror.Authorization(apperror.MsgNotAuthorized)
		}
		if err := authorizeUpdate(in, current); err != nil {
			return err
		}

		next := current.Clone()
		instructorChanged := false
		if in.InstructorID != nil && *in.InstructorID != "" &&
			(current.InstructorID == nil || *current.InstructorID != *in.InstructorID) {
			if current.Status == models.StatusCancelled || current.Status == models.StatusCompleted {
				return apperror.Conflict(fmt.Sprintf("Cannot assign an instructor to a %s booking", current.Status))
			}
			id := *in.InstructorID
			next.InstructorID = &id
			instructorChanged = true
		}

		if in.Status != nil {
			if err := s.fsm.Check(next, *in.Status); err != nil {
				return err
			}
			next.Status = *in.Status
		}
		if next.Status == models.StatusCancelled && in.CancellationReason != nil {
			next.CancellationReason = *in.CancellationReason
		}

		if instructorChanged {
			busy, err := s.detector.HasConflict(ctx, tx, *next.InstructorID, models.ResourceInstructor, next.StartTime, next.EndTime, next.ID)
			if err != nil {
				return err
			}
			if busy {
				return apperror.Conflict(apperror.MsgInstructorReassign)
			}
		}

		next.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, next); err != nil {
			return err
		}

		if escalation.ShouldResolve(current, next) {
			if resolved, err = s.resolver.Resolve(ctx, tx, next, now); err != nil {
				return err
			}
		}

		before, after = current, next
		return nil
	})
	if err != nil {
		return nil, wrapInfra("update booking", err)
	}

	metrics.IncBookingUpdated(string(after.Status))
	s.logger.Info().
		Str("booking_id", after.ID).
		Str("tenant_id", after.TenantID).
		Str("status", string(after.Status)).
		Int64("escalations_resolved", resolved).
		Msg("Booking updated")

	s.events.Publish(ctx, events.Event{
		Type:          events.TypeScheduleUpdated,
		TenantID:      after.TenantID,
		ActorID:       in.Actor.UserID,
		Entity:        models.EntityBooking,
		EntityID:      after.ID,
		Before:        before,
		After:         after,
		CorrelationID: in.CorrelationID,
	})
	s.resolver.Report(ctx, after, resolved, in.Actor.UserID, in.CorrelationID)

	return after, nil
}

// authorizeUpdate enforces role rules: staff may change anything, a student
// may only cancel their own booking while it is still REQUESTED.
func authorizeUpdate(in UpdateBookingInput, current *models.Booking) error {
	if in.Actor.Role.IsStaff() {
		return nil
	}
	if in.Actor.Role != models.RoleStudent || current.StudentID != in.Actor.UserID {
		return apperror.Authorization(apperror.MsgNotAuthorized)
	}
	if in.InstructorID != nil || in.Status == nil || *in.Status != models.StatusCancelled {
		return apperror.Authorization(apperror.MsgStudentsCancelOnly)
	}
	if current.Status != models.StatusRequested {
		return apperror.Authorization("Students can only cancel requested bookings")
	}
	return nil
}

type ListBookingsInput struct {
	Actor  models.Actor
	From   *time.Time
	To     *time.Time
	UserID string
	Page   int
	Limit  int
}

type BookingPage struct {
	Bookings []models.Booking `json:"bookings"`
	Results  int              `json:"results"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Pages    int              `json:"pages"`
}

// ListBookings returns a page of the tenant's bookings ordered by start time.
// Students only ever see their own bookings.
func (s *BookingService) ListBookings(ctx context.Context, in ListBookingsInput) (*BookingPage, error) {
	page, limit := normalizePage(in.Page, in.Limit, s.opts.DefaultPageSize, s.opts.MaxPageSize)

	filter := repository.BookingFilter{
		TenantID:      in.Actor.TenantID,
		ParticipantID: in.UserID,
		From:          in.From,
		To:            in.To,
		Limit:         limit,
		Offset:        (page - 1) * limit,
	}
	if in.Actor.Role == models.RoleStudent {
		filter.StudentID = in.Actor.UserID
	}

	bookings, total, err := s.store.ListBookings(ctx, filter)
	if err != nil {
		return nil, wrapInfra("list bookings", err)
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}

	return &BookingPage{
		Bookings: bookings,
		Results:  len(bookings),
		Total:    total,
		Page:     page,
		Pages:    pageCount(total, limit),
	}, nil
}

func normalizePage(page, limit, defaultLimit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func pageCount(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// wrapInfra passes application errors through and hides everything else behind an infrastructure error.
func wrapInfra(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Infra(op, err)
}
