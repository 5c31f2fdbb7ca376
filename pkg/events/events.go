// Package events defines the ledger's domain events and delivers them to
// subscribers. Events are written to the store's outbox in the same
// transaction as the mutation they describe; the Relay then pushes them to
// Publishers (the in-process Broker, Redis pub/sub).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event.
type Type string

const (
	ShipmentCreated Type = "shipment.created"
	StatusUpdated   Type = "shipment.status_updated"
	PaymentHandled  Type = "payment.handled"
	PaymentReleased Type = "payment.released"
	PaymentRefunded Type = "payment.refunded"
)

// Event is one recorded state change. Seq is assigned by the store when the
// event is appended and is strictly increasing.
type Event struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ShipmentID uint64    `json:"shipment_id"`
	PaymentID  uint64    `json:"payment_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New returns an unsequenced event with a fresh id.
func New(t Type, shipmentID, paymentID uint64, status string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ShipmentID: shipmentID,
		PaymentID:  paymentID,
		Status:     status,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers committed events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Source reads committed events in sequence order.
type Source interface {
	EventsSince(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
}
