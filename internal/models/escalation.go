package models

import "time"

type EscalationStatus string

const (
	EscalationUnresolved EscalationStatus = "UNRESOLVED"
	EscalationResolved   EscalationStatus = "RESOLVED"
)

// Escalation flags a requested booking that still has no instructor close to its start.
type Escalation struct {
	ID         string           `json:"id"`
	BookingID  string           `json:"bookingId"`
	TenantID   string           `json:"tenantId"`
	Message    string           `json:"message"`
	Status     EscalationStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

// IsOpen reports whether the escalation still needs attention.
func (e *Escalation) IsOpen() bool {
	return e.Status == EscalationUnresolved
}
