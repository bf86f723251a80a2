package models

import (
	"encoding/json"
	"time"
)

// Audit actions.
const (
	ActionScheduleCreated     = "Schedule Created"
	ActionScheduleUpdated     = "Schedule Updated"
	ActionEscalationDismissed = "Escalation Dismissed"
	ActionEscalationTriggered = "System Escalation Triggered"
)

// Audited entity names.
const (
	EntityBooking    = "Booking"
	EntityEscalation = "Escalation"
)

// AuditEntry is one record of the audit trail.
type AuditEntry struct {
	ID            string          `json:"id"`
	Action        string          `json:"action"`
	Entity        string          `json:"entity"`
	EntityID      string          `json:"entityId"`
	ActorID       string          `json:"userId"`
	TenantID      string          `json:"tenantId"`
	BeforeState   json.RawMessage `json:"beforeState,omitempty"`
	AfterState    json.RawMessage `json:"afterState,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
