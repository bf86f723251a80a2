// Package booking holds the scheduling rules: request validation, conflict
// detection and the booking status machine.
package booking

import (
	"fmt"
	"time"

	"skynet/internal/apperror"
)

// DefaultLeadTime is the minimum notice required for a new booking.
const DefaultLeadTime = 72 * time.Hour

// Validator checks the time window of a booking request.
type Validator struct {
	LeadTime time.Duration
}

func NewValidator(leadTime time.Duration) *Validator {
	if leadTime <= 0 {
		leadTime = DefaultLeadTime
	}
	return &Validator{LeadTime: leadTime}
}

// Validate applies the rules in order and returns the first violation.
func (v *Validator) Validate(start, end, now time.Time) error {
	if !start.Before(end) {
		return apperror.Validation(apperror.MsgStartBeforeEnd)
	}
	if start.Before(now) {
		return apperror.Validation(apperror.MsgCannotBookInThePast)
	}
	if start.Before(now.Add(v.LeadTime)) {
		return apperror.Validation(LeadTimeMessage(v.LeadTime))
	}
	return nil
}

// LeadTimeMessage renders the minimum-notice violation for the given lead time.
func LeadTimeMessage(lead time.Duration) string {
	return fmt.Sprintf("Bookings must be made at least %d hours in advance", int(lead.Hours()))
}
