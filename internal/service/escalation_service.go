package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"skynet/internal/apperror"
	"skynet/internal/events"
	"skynet/internal/metrics"
	"skynet/internal/models"
	"skynet/internal/repository"
)

const (
	defaultEscalationLimit = 20
	maxEscalationLimit     = 100
)

type ListEscalationsInput struct {
	Actor  models.Actor
	Status models.EscalationStatus
	Page   int
	Limit  int
}

type EscalationPage struct {
	Escalations []models.Escalation `json:"escalations"`
	Results     int                 `json:"results"`
	Total       int                 `json:"total"`
	Page        int                 `json:"page"`
	Pages       int                 `json:"pages"`
}

// EscalationLister is the read side of the escalation service.
type EscalationLister interface {
	ListEscalations(ctx context.Context, in ListEscalationsInput) (*EscalationPage, error)
}

type DismissEscalationInput struct {
	Actor         models.Actor
	EscalationID  string
	CorrelationID string
}

type EscalationService struct {
	store  repository.Store
	events events.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func NewEscalationService(store repository.Store, publisher events.Publisher, logger *zerolog.Logger) *EscalationService {
	return &EscalationService{
		store:  store,
		events: publisher,
		now:    time.Now,
		logger: logger.With().Str("component", "escalation_service").Logger(),
	}
}

// SetClock overrides the time source.
func (s *EscalationService) SetClock(now func() time.Time) {
	s.now = now
}

// ListEscalations returns the tenant's escalations, newest first. Without an
// explicit status only UNRESOLVED escalations are listed.
func (s *EscalationService) ListEscalations(ctx context.Context, in ListEscalationsInput) (*EscalationPage, error) {
	if !in.Actor.Role.CanManageEscalations() {
		return nil, apperror.Authorization(apperror.MsgNotAuthorized)
	}
	if in.Status == "" {
		in.Status = models.EscalationUnresolved
	}
	if in.Status != models.EscalationUnresolved && in.Status != models.EscalationResolved {
		return nil, apperror.Validation("Unknown escalation status " + string(in.Status))
	}

	page, limit := normalizePage(in.Page, in.Limit, defaultEscalationLimit, maxEscalationLimit)
	items, total, err := s.store.ListEscalations(ctx, repository.EscalationFilter{
		TenantID: in.Actor.TenantID,
		Status:   in.Status,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		return nil, wrapInfra("list escalations", err)
	}
	if items == nil {
		items = []models.Escalation{}
	}

	return &EscalationPage{
		Escalations: items,
		Results:     len(items),
		Total:       total,
		Page:        page,
		Pages:       pageCount(total, limit),
	}, nil
}

// DismissEscalation marks an escalation RESOLVED by hand. Dismissing an
// already resolved escalation returns it unchanged.
func (s *EscalationService) DismissEscalation(ctx context.Context, in DismissEscalationInput) (*models.Escalation, error) {
	if !in.Actor.Role.CanManageEscalations() {
		return nil, apperror.Authorization(apperror.MsgNotAuthorized)
	}

	var before, after *models.Escalation
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		current, err := tx.GetEscalation(ctx, in.EscalationID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound(apperror.MsgEscalationNotFound)
		}
		if err != nil {
			return err
		}
		if current.TenantID != in.Actor.TenantID {
			return apperror.Authorization(apperror.MsgNotAuthorized)
		}
		if !current.IsOpen() {
			after = current
			return nil
		}

		next := *current
		at := s.now().UTC()
		next.Status = models.EscalationResolved
		next.ResolvedAt = &at
		if err := tx.UpdateEscalation(ctx, &next); err != nil {
			return err
		}
		before, after = current, &next
		return nil
	})
	if err != nil {
		return nil, wrapInfra("dismiss escalation", err)
	}
	if before == nil {
		return after, nil
	}

	metrics.AddEscalationsResolved("dismissal", 1)
	s.logger.Info().
		Str("escalation_id", after.ID).
		Str("booking_id", after.BookingID).
		Str("actor_id", in.Actor.UserID).
		Msg("Escalation dismissed")

	s.events.Publish(ctx, events.Event{
		Type:          events.TypeEscalationDismissed,
		TenantID:      after.TenantID,
		ActorID:       in.Actor.UserID,
		Entity:        models.EntityEscalation,
		EntityID:      after.ID,
		Before:        before,
		After:         after,
		CorrelationID: in.CorrelationID,
	})

	return after, nil
}
