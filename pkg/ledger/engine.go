// Package ledger implements the shipment/payment ledger engine, the only
// component with public mutating operations.
//
// The engine is a single-writer state machine. Each operation authorizes the
// caller, validates the shipment and payment records, invokes the custodian
// when funds move and commits the new state together with its event in one
// store transaction. A failure at any step leaves no trace: staged writes,
// allocated ids and events are rolled back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Jovells/dchain/pkg/authz"
	"github.com/Jovells/dchain/pkg/custody"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/observability"
	"github.com/Jovells/dchain/pkg/shipment"
	"github.com/Jovells/dchain/pkg/store"
)

const (
	opCreateShipment = "create_shipment"
	opUpdateStatus   = "update_status"
	opHandlePayment  = "handle_payment"
	opReleasePayment = "release_payment"
	opRefundPayment  = "refund_payment"
)

// Engine is the shipment/payment ledger engine.
type Engine struct {
	mu        sync.Mutex
	store     store.Store
	custodian custody.Custodian
	authz     authz.Authorizer
	obs       *observability.Provider
	clock     func() time.Time
	logger    *slog.Logger
	onCommit  []func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithAuthorizer replaces the default role rules.
func WithAuthorizer(a authz.Authorizer) Option {
	return func(e *Engine) { e.authz = a }
}

// WithObservability instruments every operation.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCommitHook registers fn to run after every successful mutation.
// fn must not block.
func WithCommitHook(fn func()) Option {
	return func(e *Engine) { e.onCommit = append(e.onCommit, fn) }
}

// New creates an engine over st that settles through c.
func New(st store.Store, c custody.Custodian, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		custodian: c,
		authz:     authz.RoleAuthorizer{},
		clock:     time.Now,
		logger:    slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutate runs fn in a store transaction while holding the writer lock.
// Cancellation is only honoured before the transaction starts: once fn may
// have called the custodian, the commit must not be abandoned.
func (e *Engine) mutate(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	ctx, done := e.obs.TrackOperation(ctx, op, attrs...)
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	txCtx := context.WithoutCancel(ctx)
	e.mu.Lock()
	err = e.store.Update(txCtx, func(tx store.Tx) error { return fn(txCtx, tx) })
	e.mu.Unlock()
	if err != nil {
		return withOp(op, err)
	}
	for _, hook := range e.onCommit {
		hook()
	}
	return nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// withOp stamps op on a ledger error that does not carry one yet.
func withOp(op string, err error) error {
	var le *shipment.Error
	if errors.As(err, &le) && le.Op == "" {
		le.Op = op
	}
	return err
}

func (e *Engine) authorize(ctx context.Context, op string, sh *shipment.Shipment, caller shipment.Address, action authz.Action) error {
	ok, err := e.authz.Allow(ctx, sh, caller, action)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return &shipment.Error{
			Kind:       shipment.ErrNotAuthorized,
			Op:         op,
			ShipmentID: sh.ID,
			Detail:     fmt.Sprintf("%s may not %s", caller, action),
		}
	}
	return nil
}

func loadShipment(ctx context.Context, tx store.Reader, op string, id uint64) (shipment.Shipment, error) {
	sh, err := tx.Shipment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return shipment.Shipment{}, &shipment.Error{
			Kind:       shipment.ErrNotFound,
			Op:         op,
			Field:      "shipment",
			ShipmentID: id,
			Detail:     fmt.Sprintf("shipment %d does not exist", id),
		}
	}
	if err != nil {
		return shipment.Shipment{}, fmt.Errorf("load shipment %d: %w", id, err)
	}
	return sh, nil
}

func loadPayment(ctx context.Context, tx store.Reader, sh shipment.Shipment) (shipment.Payment, error) {
	p, err := tx.Payment(ctx, sh.PaymentID)
	if err != nil {
		// every shipment is created with its payment in one transaction
		return shipment.Payment{}, fmt.Errorf("shipment %d references payment %d: %w", sh.ID, sh.PaymentID, err)
	}
	return p, nil
}

func appendEvent(ctx context.Context, tx store.Tx, t events.Type, shipmentID, paymentID uint64, status string, at time.Time) error {
	ev := events.New(t, shipmentID, paymentID, status, at)
	return tx.AppendEvent(ctx, &ev)
}

func shipmentAttr(id uint64) attribute.KeyValue {
	return attribute.Int64("dchain.shipment_id", int64(id))
}

// CreateShipment records a new shipment supplied by caller and its pending
// payment, and returns the shipment id.
func (e *Engine) CreateShipment(ctx context.Context, caller shipment.Address, d shipment.Draft) (uint64, error) {
	if err := d.Validate(caller); err != nil {
		_, done := e.obs.TrackOperation(ctx, opCreateShipment)
		err = withOp(opCreateShipment, err)
		done(err)
		return 0, err
	}

	var created shipment.Shipment
	attrs := []attribute.KeyValue{attribute.String("dchain.policy", string(d.Policy))}
	err := e.mutate(ctx, opCreateShipment, attrs, func(ctx context.Context, tx store.Tx) error {
		shipmentID, err := tx.NextID(ctx, store.SeqShipment)
		if err != nil {
			return err
		}
		paymentID, err := tx.NextID(ctx, store.SeqPayment)
		if err != nil {
			return err
		}

		now := e.now()
		created = shipment.Shipment{
			ID:              shipmentID,
			Visibility:      d.Visibility,
			RouteCommitment: d.RouteCommitment,
			Supplier:        shipment.NewAddress(string(caller)),
			Transporter:     shipment.NewAddress(string(d.Transporter)),
			Retailer:        shipment.NewAddress(string(d.Retailer)),
			Policy:          d.Policy,
			Amount:          d.Amount,
			Status:          shipment.StatusCreated,
			PaymentID:       paymentID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if d.Visibility == shipment.VisibilityPublic {
			created.Origin, created.Destination = d.Origin, d.Destination
		}
		payment := shipment.Payment{
			ID:         paymentID,
			ShipmentID: shipmentID,
			Amount:     d.Amount,
			Policy:     d.Policy,
			Status:     shipment.PaymentPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if err := tx.PutShipment(ctx, created); err != nil {
			return err
		}
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}
		return appendEvent(ctx, tx, events.ShipmentCreated, shipmentID, paymentID, string(created.Status), now)
	})
	if err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "shipment created",
		"shipment_id", created.ID,
		"payment_id", created.PaymentID,
		"visibility", created.Visibility,
		"policy", created.Policy,
		"amount", created.Amount,
	)
	return created.ID, nil
}

// UpdateStatus advances a shipment's delivery status by exactly one step.
func (e *Engine) UpdateStatus(ctx context.Context, caller shipment.Address, shipmentID uint64, next shipment.Status) error {
	var from shipment.Status
	err := e.mutate(ctx, opUpdateStatus, []attribute.KeyValue{shipmentAttr(shipmentID)}, func(ctx context.Context, tx store.Tx) error {
		sh, err := loadShipment(ctx, tx, opUpdateStatus, shipmentID)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, opUpdateStatus, &sh, caller, authz.ActionUpdateStatus); err != nil {
			return err
		}
		if !next.Valid() {
			return &shipment.Error{
				Kind:       shipment.ErrInvalidTransition,
				Op:         opUpdateStatus,
				Field:      "status",
				ShipmentID: sh.ID,
				Detail:     fmt.Sprintf("unknown status %q", next),
			}
		}
		want, ok := sh.Status.Next()
		if !ok || next != want {
			return &shipment.Error{
				Kind:       shipment.ErrInvalidTransition,
				Op:         opUpdateStatus,
				Field:      "status",
				ShipmentID: sh.ID,
				Detail:     fmt.Sprintf("%s -> %s", sh.Status, next),
			}
		}

		from = sh.Status
		sh.Status = next
		sh.UpdatedAt = e.now()
		if err := tx.PutShipment(ctx, sh); err != nil {
			return err
		}
		return appendEvent(ctx, tx, events.StatusUpdated, sh.ID, sh.PaymentID, string(next), sh.UpdatedAt)
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "shipment status updated",
		"shipment_id", shipmentID,
		"from", from,
		"to", next,
		"caller", caller,
	)
	return nil
}

// HandlePayment settles or escrows the payment of a shipment. The caller
// must be the retailer; only the obligation amount is moved, never the
// surplus of offered.
func (e *Engine) HandlePayment(ctx context.Context, caller shipment.Address, shipmentID uint64, offered uint64) error {
	var (
		moved   bool
		payment shipment.Payment
		action  string
	)
	err := e.mutate(ctx, opHandlePayment, []attribute.KeyValue{shipmentAttr(shipmentID)}, func(ctx context.Context, tx store.Tx) error {
		sh, err := loadShipment(ctx, tx, opHandlePayment, shipmentID)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, opHandlePayment, &sh, caller, authz.ActionHandlePayment); err != nil {
			return err
		}
		payment, err = loadPayment(ctx, tx, sh)
		if err != nil {
			return err
		}
		if payment.Status != shipment.PaymentPending {
			return &shipment.Error{
				Kind:       shipment.ErrInvalidTransition,
				Op:         opHandlePayment,
				ShipmentID: sh.ID,
				PaymentID:  payment.ID,
				Detail:     fmt.Sprintf("payment is %s", payment.Status),
			}
		}
		if payment.Policy == shipment.PolicyPostpaid && sh.Status != shipment.StatusCompleted {
			return &shipment.Error{
				Kind:       shipment.ErrNotYetDue,
				Op:         opHandlePayment,
				ShipmentID: sh.ID,
				PaymentID:  payment.ID,
				Detail:     fmt.Sprintf("shipment is %s", sh.Status),
			}
		}
		if offered < payment.Amount {
			return &shipment.Error{
				Kind:       shipment.ErrInsufficientPayment,
				Op:         opHandlePayment,
				Field:      "amount",
				ShipmentID: sh.ID,
				PaymentID:  payment.ID,
				Detail:     fmt.Sprintf("offered %d, due %d", offered, payment.Amount),
			}
		}

		payer := shipment.NewAddress(string(caller))
		escrowed := payment.Policy == shipment.PolicyEscrowed
		if escrowed {
			action = "escrow"
			payment.Status = shipment.PaymentEscrowed
		} else {
			action = "transfer"
			payment.Status = shipment.PaymentCompleted
		}
		payment.Payer = payer
		payment.UpdatedAt = e.now()
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, events.PaymentHandled, sh.ID, payment.ID, string(payment.Status), payment.UpdatedAt); err != nil {
			return err
		}

		// The custodian goes last so nothing but the commit can fail after it.
		if escrowed {
			err = e.custodian.DepositToEscrow(ctx, payer, payment.ID, payment.Amount)
		} else {
			err = e.custodian.Transfer(ctx, payer, sh.Supplier, payment.Amount)
		}
		if err != nil {
			return custodyFailed(opHandlePayment, sh.ID, payment.ID, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		e.reportStranded(ctx, opHandlePayment, moved, shipmentID, payment, err)
		return err
	}

	e.obs.RecordSettlement(ctx, string(payment.Policy), action, payment.Amount)
	e.logger.InfoContext(ctx, "payment handled",
		"shipment_id", shipmentID,
		"payment_id", payment.ID,
		"policy", payment.Policy,
		"status", payment.Status,
		"amount", payment.Amount,
	)
	return nil
}

// ReleasePayment pays escrowed funds out to the supplier.
func (e *Engine) ReleasePayment(ctx context.Context, caller shipment.Address, shipmentID uint64) error {
	var (
		moved   bool
		payment shipment.Payment
	)
	err := e.mutate(ctx, opReleasePayment, []attribute.KeyValue{shipmentAttr(shipmentID)}, func(ctx context.Context, tx store.Tx) error {
		sh, err := loadShipment(ctx, tx, opReleasePayment, shipmentID)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, opReleasePayment, &sh, caller, authz.ActionReleasePayment); err != nil {
			return err
		}
		payment, err = loadPayment(ctx, tx, sh)
		if err != nil {
			return err
		}
		if payment.Status != shipment.PaymentEscrowed {
			return noEscrow(opReleasePayment, sh.ID, payment)
		}

		payment.Status = shipment.PaymentCompleted
		payment.UpdatedAt = e.now()
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, events.PaymentReleased, sh.ID, payment.ID, string(payment.Status), payment.UpdatedAt); err != nil {
			return err
		}
		if err := e.custodian.ReleaseEscrow(ctx, payment.ID, sh.Supplier); err != nil {
			return custodyFailed(opReleasePayment, sh.ID, payment.ID, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		e.reportStranded(ctx, opReleasePayment, moved, shipmentID, payment, err)
		return err
	}

	e.obs.RecordSettlement(ctx, string(payment.Policy), "release", payment.Amount)
	e.logger.InfoContext(ctx, "payment released",
		"shipment_id", shipmentID,
		"payment_id", payment.ID,
		"amount", payment.Amount,
		"caller", caller,
	)
	return nil
}

// RefundPayment returns escrowed funds to the payer before delivery
// completes and marks the payment failed.
func (e *Engine) RefundPayment(ctx context.Context, caller shipment.Address, shipmentID uint64) error {
	var (
		moved   bool
		payment shipment.Payment
	)
	err := e.mutate(ctx, opRefundPayment, []attribute.KeyValue{shipmentAttr(shipmentID)}, func(ctx context.Context, tx store.Tx) error {
		sh, err := loadShipment(ctx, tx, opRefundPayment, shipmentID)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, opRefundPayment, &sh, caller, authz.ActionRefundPayment); err != nil {
			return err
		}
		payment, err = loadPayment(ctx, tx, sh)
		if err != nil {
			return err
		}
		if payment.Status != shipment.PaymentEscrowed {
			return noEscrow(opRefundPayment, sh.ID, payment)
		}
		if sh.Status == shipment.StatusCompleted {
			return &shipment.Error{
				Kind:       shipment.ErrInvalidTransition,
				Op:         opRefundPayment,
				ShipmentID: sh.ID,
				PaymentID:  payment.ID,
				Detail:     "shipment already delivered",
			}
		}

		payment.Status = shipment.PaymentFailed
		payment.UpdatedAt = e.now()
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, events.PaymentRefunded, sh.ID, payment.ID, string(payment.Status), payment.UpdatedAt); err != nil {
			return err
		}
		if err := e.custodian.ReleaseEscrow(ctx, payment.ID, payment.Payer); err != nil {
			return custodyFailed(opRefundPayment, sh.ID, payment.ID, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		e.reportStranded(ctx, opRefundPayment, moved, shipmentID, payment, err)
		return err
	}

	e.obs.RecordSettlement(ctx, string(payment.Policy), "refund", payment.Amount)
	e.logger.InfoContext(ctx, "payment refunded",
		"shipment_id", shipmentID,
		"payment_id", payment.ID,
		"payer", payment.Payer,
		"amount", payment.Amount,
	)
	return nil
}

func custodyFailed(op string, shipmentID, paymentID uint64, err error) error {
	return &shipment.Error{
		Kind:       shipment.ErrCustodyTransferFailed,
		Op:         op,
		ShipmentID: shipmentID,
		PaymentID:  paymentID,
		Err:        err,
	}
}

func noEscrow(op string, shipmentID uint64, p shipment.Payment) error {
	return &shipment.Error{
		Kind:       shipment.ErrNoEscrowHeld,
		Op:         op,
		ShipmentID: shipmentID,
		PaymentID:  p.ID,
		Detail:     fmt.Sprintf("payment is %s", p.Status),
	}
}

// reportStranded logs funds the custodian moved for a transaction that then
// failed to commit. They need manual reconciliation.
func (e *Engine) reportStranded(ctx context.Context, op string, moved bool, shipmentID uint64, p shipment.Payment, err error) {
	if !moved {
		return
	}
	e.logger.ErrorContext(ctx, "custody moved funds but the ledger did not commit",
		"op", op,
		"shipment_id", shipmentID,
		"payment_id", p.ID,
		"amount", p.Amount,
		"error", err,
	)
}
