package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skynet/internal/models"
)

// Event types. The first four are recorded in the audit trail under the same name.
const (
	TypeScheduleCreated     = models.ActionScheduleCreated
	TypeScheduleUpdated     = models.ActionScheduleUpdated
	TypeEscalationDismissed = models.ActionEscalationDismissed
	TypeEscalationTriggered = models.ActionEscalationTriggered
	TypeEscalationsResolved = "Escalations Resolved"
)

// Event represents a lightweight domain event.
type Event struct {
	ID            string
	Type          string
	TenantID      string
	ActorID       string
	Entity        string
	EntityID      string
	Before        any
	After         any
	CorrelationID string
	CreatedAt     time.Time
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// Publish notifies subscribers of the event type. Handler errors are logged
// and never reach the publisher.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(ctx, event); err != nil && b.logger != nil {
			b.logger.Error().Err(err).
				Str("event_type", event.Type).
				Str("entity_id", event.EntityID).
				Msg("Event handler failed")
		}
	}
}
