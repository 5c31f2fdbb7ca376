package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/shipment"
)

const (
	supplier    shipment.Address = "0x1000000000000000000000000000000000000001"
	transporter shipment.Address = "0x2000000000000000000000000000000000000002"
	retailer    shipment.Address = "0x3000000000000000000000000000000000000003"
	outsider    shipment.Address = "0x4000000000000000000000000000000000000004"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": newSQLite,
	}
}

func sampleShipment(id, paymentID uint64, now time.Time) shipment.Shipment {
	return shipment.Shipment{
		ID:          id,
		Visibility:  shipment.VisibilityPublic,
		Origin:      "Accra",
		Destination: "Kumasi",
		Supplier:    supplier,
		Transporter: transporter,
		Retailer:    retailer,
		Policy:      shipment.PolicyEscrowed,
		Amount:      10_000_000,
		Status:      shipment.StatusCreated,
		PaymentID:   paymentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// create stages a shipment, its payment and a created event the way the
// engine does.
func create(ctx context.Context, tx Tx, now time.Time) (shipment.Shipment, error) {
	sid, err := tx.NextID(ctx, SeqShipment)
	if err != nil {
		return shipment.Shipment{}, err
	}
	pid, err := tx.NextID(ctx, SeqPayment)
	if err != nil {
		return shipment.Shipment{}, err
	}
	sh := sampleShipment(sid, pid, now)
	if err := tx.PutShipment(ctx, sh); err != nil {
		return shipment.Shipment{}, err
	}
	p := shipment.Payment{ID: pid, ShipmentID: sid, Amount: sh.Amount, Policy: sh.Policy, Status: shipment.PaymentPending, CreatedAt: now, UpdatedAt: now}
	if err := tx.PutPayment(ctx, p); err != nil {
		return shipment.Shipment{}, err
	}
	e := events.New(events.ShipmentCreated, sid, pid, string(sh.Status), now)
	if err := tx.AppendEvent(ctx, &e); err != nil {
		return shipment.Shipment{}, err
	}
	return sh, nil
}

func TestStore_CreateAndRead(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)

			var created shipment.Shipment
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				var err error
				created, err = create(ctx, tx, now)
				return err
			}))
			assert.Equal(t, uint64(1), created.ID)

			got, err := s.Shipment(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, created, got)

			p, err := s.Payment(ctx, created.PaymentID)
			require.NoError(t, err)
			assert.Equal(t, shipment.PaymentPending, p.Status)
			assert.Equal(t, uint64(1), p.ShipmentID)
			assert.True(t, p.Payer.IsZero())

			evs, err := s.EventsSince(ctx, 0, 10)
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, uint64(1), evs[0].Seq)
			assert.Equal(t, events.ShipmentCreated, evs[0].Type)
			assert.True(t, now.Equal(evs[0].OccurredAt))

			_, err = s.Shipment(ctx, 99)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Payment(ctx, 99)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RollbackDiscardsWritesAndIDs(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Now().UTC()
			boom := errors.New("custodian failed")

			err := s.Update(ctx, func(tx Tx) error {
				if _, err := create(ctx, tx, now); err != nil {
					return err
				}
				// the staged write is visible inside the transaction
				_, err := tx.Shipment(ctx, 1)
				require.NoError(t, err)
				return boom
			})
			assert.ErrorIs(t, err, boom)

			_, err = s.Shipment(ctx, 1)
			assert.ErrorIs(t, err, ErrNotFound)
			evs, err := s.EventsSince(ctx, 0, 10)
			require.NoError(t, err)
			assert.Empty(t, evs)

			var sh shipment.Shipment
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				var err error
				sh, err = create(ctx, tx, now)
				return err
			}))
			assert.Equal(t, uint64(1), sh.ID, "ids from a rolled back transaction are reused")
			assert.Equal(t, uint64(1), sh.PaymentID)
		})
	}
}

func TestStore_UpdateMutableFields(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Now().UTC()
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				_, err := create(ctx, tx, now)
				return err
			}))

			later := now.Add(time.Minute)
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				sh, err := tx.Shipment(ctx, 1)
				if err != nil {
					return err
				}
				sh.Status = shipment.StatusInTransit
				sh.UpdatedAt = later
				if err := tx.PutShipment(ctx, sh); err != nil {
					return err
				}
				p, err := tx.Payment(ctx, sh.PaymentID)
				if err != nil {
					return err
				}
				p.Status = shipment.PaymentEscrowed
				p.Payer = retailer
				p.UpdatedAt = later
				return tx.PutPayment(ctx, p)
			}))

			sh, err := s.Shipment(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, shipment.StatusInTransit, sh.Status)
			assert.True(t, later.Equal(sh.UpdatedAt))
			assert.True(t, now.Equal(sh.CreatedAt))

			p, err := s.Payment(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, shipment.PaymentEscrowed, p.Status)
			assert.Equal(t, retailer, p.Payer)
		})
	}
}

func TestStore_PrivateCommitmentRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			digest, err := commitment.Commit(commitment.Route{Origin: "A", Destination: "B"})
			require.NoError(t, err)

			now := time.Now().UTC()
			sh := sampleShipment(1, 1, now)
			sh.Visibility = shipment.VisibilityPrivate
			sh.Origin, sh.Destination = "", ""
			sh.RouteCommitment = digest
			require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.PutShipment(ctx, sh) }))

			got, err := s.Shipment(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, digest, got.RouteCommitment)
			assert.Empty(t, got.Origin)
		})
	}
}

func TestStore_ListShipments(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Now().UTC()
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				for i := 0; i < 5; i++ {
					if _, err := create(ctx, tx, now); err != nil {
						return err
					}
				}
				other := sampleShipment(6, 6, now)
				other.Retailer = outsider
				return tx.PutShipment(ctx, other)
			}))

			all, err := s.ListShipments(ctx, Filter{})
			require.NoError(t, err)
			assert.Len(t, all, 6)

			page, err := s.ListShipments(ctx, Filter{AfterID: 2, Limit: 2})
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, uint64(3), page[0].ID)
			assert.Equal(t, uint64(4), page[1].ID)

			mine, err := s.ListShipments(ctx, Filter{Participant: "0x4000000000000000000000000000000000000004"})
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, uint64(6), mine[0].ID)

			none, err := s.ListShipments(ctx, Filter{AfterID: 6})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_EventsSincePaging(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Now().UTC()
			for i := 0; i < 3; i++ {
				require.NoError(t, s.Update(ctx, func(tx Tx) error {
					_, err := create(ctx, tx, now)
					return err
				}))
			}

			evs, err := s.EventsSince(ctx, 1, 1)
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, uint64(2), evs[0].Seq)
			assert.Equal(t, uint64(2), evs[0].ShipmentID)

			evs, err = s.EventsSince(ctx, 3, 10)
			require.NoError(t, err)
			assert.Empty(t, evs)
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemoryStore().Update(ctx, func(Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, Filter{}.limit())
	assert.Equal(t, MaxListLimit, Filter{Limit: 1 << 20}.limit())
	assert.Equal(t, 7, Filter{Limit: 7}.limit())
}
