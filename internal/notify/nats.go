package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// MessagePublisher is satisfied by *nats.Conn.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// escalationEvent is the message consumed by the e-mail worker.
type escalationEvent struct {
	EventType string `json:"event_type"`
	Alert
}

// NATSNotifier publishes alerts for out-of-process delivery (e-mail).
type NATSNotifier struct {
	conn    MessagePublisher
	subject string
}

func NewNATSNotifier(conn MessagePublisher, subject string) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject}
}

// ConnectNATS opens a connection to url.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("skynet"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (n *NATSNotifier) Notify(_ context.Context, alert Alert) error {
	payload, err := json.Marshal(escalationEvent{EventType: "escalation.created", Alert: alert})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}
