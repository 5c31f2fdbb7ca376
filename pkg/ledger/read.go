package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/shipment"
	"github.com/Jovells/dchain/pkg/store"
)

// GetShipment returns the shipment with id.
func (e *Engine) GetShipment(ctx context.Context, id uint64) (shipment.Shipment, error) {
	return loadShipment(ctx, e.store, "get_shipment", id)
}

// GetPayment returns the payment with id.
func (e *Engine) GetPayment(ctx context.Context, id uint64) (shipment.Payment, error) {
	p, err := e.store.Payment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return shipment.Payment{}, &shipment.Error{
			Kind:      shipment.ErrNotFound,
			Op:        "get_payment",
			Field:     "payment",
			PaymentID: id,
			Detail:    fmt.Sprintf("payment %d does not exist", id),
		}
	}
	if err != nil {
		return shipment.Payment{}, fmt.Errorf("load payment %d: %w", id, err)
	}
	return p, nil
}

// PaymentForShipment returns the payment attached to a shipment.
func (e *Engine) PaymentForShipment(ctx context.Context, shipmentID uint64) (shipment.Payment, error) {
	sh, err := loadShipment(ctx, e.store, "payment_for_shipment", shipmentID)
	if err != nil {
		return shipment.Payment{}, err
	}
	return loadPayment(ctx, e.store, sh)
}

// ListShipments pages through shipments in id order.
func (e *Engine) ListShipments(ctx context.Context, f store.Filter) ([]shipment.Shipment, error) {
	return e.store.ListShipments(ctx, f)
}

// Events returns committed events with sequence greater than afterSeq.
func (e *Engine) Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	return e.store.EventsSince(ctx, afterSeq, limit)
}
