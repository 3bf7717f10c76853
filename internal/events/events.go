package events

import "context"

// Event types
const (
	EventPurchaseStatusChanged = "purchase_status_changed"
	EventPaymentVerified       = "payment_verified"
	EventPurchaseCompleted     = "purchase_completed"
)

// StreamPurchases is the channel purchase lifecycle events are published on.
const StreamPurchases = "events:purchases"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher discards events; used where no bus is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
