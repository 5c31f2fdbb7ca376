// Package store persists shipments, payments and the event outbox. Every
// mutation happens inside Update, which commits all staged writes (including
// id allocations) or none of them.
package store

import (
	"context"
	"errors"

	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/shipment"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Sequence names an id allocator.
type Sequence string

const (
	SeqShipment Sequence = "shipment"
	SeqPayment  Sequence = "payment"
	SeqEvent    Sequence = "event"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Filter narrows ListShipments. Results are ordered by id.
type Filter struct {
	Participant shipment.Address
	AfterID     uint64
	Limit       int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

func clampLimit(n int) int {
	return Filter{Limit: n}.limit()
}

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	Shipment(ctx context.Context, id uint64) (shipment.Shipment, error)
	Payment(ctx context.Context, id uint64) (shipment.Payment, error)
	ListShipments(ctx context.Context, f Filter) ([]shipment.Shipment, error)
	EventsSince(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error)
}

// Tx stages writes. Nothing is visible outside the transaction until Update
// returns nil.
type Tx interface {
	Reader
	NextID(ctx context.Context, seq Sequence) (uint64, error)
	PutShipment(ctx context.Context, s shipment.Shipment) error
	PutPayment(ctx context.Context, p shipment.Payment) error
	// AppendEvent assigns e.Seq and records it in the outbox.
	AppendEvent(ctx context.Context, e *events.Event) error
}

// Store is a transactional shipment store.
type Store interface {
	Reader
	Update(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
