// Package notify delivers escalation alerts to a tenant's staff.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"skynet/internal/metrics"
)

// Alert tells staff that a booking needs an instructor.
type Alert struct {
	TenantID     string    `json:"tenantId"`
	BookingID    string    `json:"bookingId"`
	EscalationID string    `json:"escalationId"`
	StudentID    string    `json:"studentId"`
	Message      string    `json:"message"`
	StartTime    time.Time `json:"startTime"`
}

// Notifier sends an alert over one channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Multi fans an alert out to every channel and joins their errors.
type Multi struct {
	channels map[string]Notifier
}

func NewMulti() *Multi {
	return &Multi{channels: make(map[string]Notifier)}
}

// Add registers a channel under name, used as the metrics label.
func (m *Multi) Add(name string, n Notifier) {
	m.channels[name] = n
}

func (m *Multi) Len() int {
	return len(m.channels)
}

func (m *Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for name, n := range m.channels {
		if err := n.Notify(ctx, alert); err != nil {
			metrics.IncNotification(name, "error")
			errs = append(errs, err)
			continue
		}
		metrics.IncNotification(name, "sent")
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log. It stands in for e-mail delivery
// when no external channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn().
		Str("tenant_id", alert.TenantID).
		Str("booking_id", alert.BookingID).
		Str("escalation_id", alert.EscalationID).
		Time("start_time", alert.StartTime).
		Msg(alert.Message)
	return nil
}
