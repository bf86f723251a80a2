// Package audit records the booking audit trail and exports it as a spreadsheet.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skynet/internal/events"
	"skynet/internal/metrics"
	"skynet/internal/models"
)

// Writer persists audit entries.
type Writer interface {
	InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error
}

// Recorder turns domain events into audit entries. Recording is best-effort:
// failures are logged and counted but never returned to the operation that
// caused them.
type Recorder struct {
	writer  Writer
	logger  zerolog.Logger
	timeout time.Duration
}

func NewRecorder(writer Writer, logger *zerolog.Logger) *Recorder {
	return &Recorder{
		writer:  writer,
		logger:  logger.With().Str("component", "audit").Logger(),
		timeout: 5 * time.Second,
	}
}

// Subscribe registers the recorder for every audited event type.
func (r *Recorder) Subscribe(bus *events.EventBus) {
	for _, t := range []string{
		events.TypeScheduleCreated,
		events.TypeScheduleUpdated,
		events.TypeEscalationDismissed,
		events.TypeEscalationTriggered,
	} {
		bus.Subscribe(t, r.Handle)
	}
}

// Handle records one event. It always returns nil.
func (r *Recorder) Handle(ctx context.Context, ev events.Event) error {
	entry := &models.AuditEntry{
		ID:            uuid.NewString(),
		Action:        ev.Type,
		Entity:        ev.Entity,
		EntityID:      ev.EntityID,
		ActorID:       ev.ActorID,
		TenantID:      ev.TenantID,
		CorrelationID: ev.CorrelationID,
		CreatedAt:     ev.CreatedAt,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.BeforeState = r.marshal(ev.Before, ev)
	entry.AfterState = r.marshal(ev.After, ev)

	// The write must not be cut short by the caller's request context ending.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.writer.InsertAuditEntry(writeCtx, entry); err != nil {
		metrics.IncAuditWrite("error")
		r.logger.Error().Err(err).
			Str("action", entry.Action).
			Str("entity_id", entry.EntityID).
			Str("tenant_id", entry.TenantID).
			Str("correlation_id", entry.CorrelationID).
			Msg("Failed to record audit entry")
		return nil
	}
	metrics.IncAuditWrite("ok")
	return nil
}

func (r *Recorder) marshal(state any, ev events.Event) json.RawMessage {
	if state == nil {
		return nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		r.logger.Warn().Err(err).Str("action", ev.Type).Msg("Failed to encode audit state")
		return nil
	}
	return raw
}
