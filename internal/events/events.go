package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"lajupos/backend/internal/domain"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventOrderAmended  = "OrderAmended"
	EventOrderPaid     = "OrderPaid"
	EventOrderCanceled = "OrderCanceled"
)

const producerName = "lajupos-order-engine"

// Envelope is the wire shape for lifecycle events. CorrelationID carries the
// order id so downstream consumers partition and deduplicate per order.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderLifecyclePayload struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	TotalCents    int64  `json:"total_cents"`
	DiscountCents int64  `json:"discount_cents"`
	PaymentMethod string `json:"payment_method"`
}

// Publisher delivers lifecycle events after the owning transaction has
// committed. Delivery is best effort; a publish failure must never fail the
// operation that produced it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, order *domain.Order) error
}

func NewEnvelope(eventType string, order *domain.Order) (Envelope, error) {
	payload, err := json.Marshal(OrderLifecyclePayload{
		OrderID:       order.ID,
		Status:        order.Status,
		TotalCents:    order.TotalCents,
		DiscountCents: order.DiscountCents,
		PaymentMethod: order.Payment.Method,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producerName,
		CorrelationID: order.ID,
		Payload:       payload,
	}, nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ string, _ *domain.Order) error {
	return nil
}
