package booking

import (
	"fmt"

	"skynet/internal/apperror"
	"skynet/internal/models"
)

// StatusMachine holds the allowed booking status transitions.
type StatusMachine struct {
	transitions map[models.BookingStatus][]models.BookingStatus
}

func NewStatusMachine() *StatusMachine {
	return &StatusMachine{
		transitions: map[models.BookingStatus][]models.BookingStatus{
			models.StatusRequested: {models.StatusApproved, models.StatusCancelled},
			models.StatusApproved:  {models.StatusCancelled, models.StatusCompleted},
			models.StatusCancelled: {},
			models.StatusCompleted: {},
		},
	}
}

// CanTransition checks if transition is allowed. Staying in the same status is always allowed.
func (m *StatusMachine) CanTransition(from, to models.BookingStatus) bool {
	if from == to {
		return true
	}
	allowed, ok := m.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Check validates moving b to status to.
func (m *StatusMachine) Check(b *models.Booking, to models.BookingStatus) error {
	if !to.Valid() {
		return apperror.Validation(fmt.Sprintf("Unknown booking status %q", to))
	}
	if !m.CanTransition(b.Status, to) {
		return apperror.Conflict(fmt.Sprintf("Cannot change booking status from %s to %s", b.Status, to))
	}
	if (to == models.StatusApproved || to == models.StatusCompleted) && !b.HasInstructor() {
		return apperror.Conflict("An instructor must be assigned before the booking is " + string(to))
	}
	return nil
}
