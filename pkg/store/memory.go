package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/shipment"
)

// MemoryStore implements Store in memory. Transactions stage writes in an
// overlay that is merged on commit and discarded on error.
type MemoryStore struct {
	mu        sync.RWMutex
	shipments map[uint64]shipment.Shipment
	payments  map[uint64]shipment.Payment
	events    []events.Event
	seq       map[Sequence]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shipments: make(map[uint64]shipment.Shipment),
		payments:  make(map[uint64]shipment.Payment),
		seq:       make(map[Sequence]uint64),
	}
}

func (s *MemoryStore) Shipment(_ context.Context, id uint64) (shipment.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sh, ok := s.shipments[id]; ok {
		return sh, nil
	}
	return shipment.Shipment{}, ErrNotFound
}

func (s *MemoryStore) Payment(_ context.Context, id uint64) (shipment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.payments[id]; ok {
		return p, nil
	}
	return shipment.Payment{}, ErrNotFound
}

func (s *MemoryStore) ListShipments(_ context.Context, f Filter) ([]shipment.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listShipments(s.shipments, nil, f), nil
}

func (s *MemoryStore) EventsSince(_ context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eventsSince(s.events, afterSeq, clampLimit(limit)), nil
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		base:      s,
		shipments: make(map[uint64]shipment.Shipment),
		payments:  make(map[uint64]shipment.Payment),
		seq:       make(map[Sequence]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, sh := range tx.shipments {
		s.shipments[id] = sh
	}
	for id, p := range tx.payments {
		s.payments[id] = p
	}
	s.events = append(s.events, tx.events...)
	for name, v := range tx.seq {
		s.seq[name] = v
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// memoryTx reads through to base, which is locked for the transaction's
// lifetime by Update.
type memoryTx struct {
	base      *MemoryStore
	shipments map[uint64]shipment.Shipment
	payments  map[uint64]shipment.Payment
	events    []events.Event
	seq       map[Sequence]uint64
}

func (tx *memoryTx) Shipment(_ context.Context, id uint64) (shipment.Shipment, error) {
	if sh, ok := tx.shipments[id]; ok {
		return sh, nil
	}
	if sh, ok := tx.base.shipments[id]; ok {
		return sh, nil
	}
	return shipment.Shipment{}, ErrNotFound
}

func (tx *memoryTx) Payment(_ context.Context, id uint64) (shipment.Payment, error) {
	if p, ok := tx.payments[id]; ok {
		return p, nil
	}
	if p, ok := tx.base.payments[id]; ok {
		return p, nil
	}
	return shipment.Payment{}, ErrNotFound
}

func (tx *memoryTx) ListShipments(_ context.Context, f Filter) ([]shipment.Shipment, error) {
	return listShipments(tx.base.shipments, tx.shipments, f), nil
}

func (tx *memoryTx) EventsSince(_ context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	all := make([]events.Event, 0, len(tx.base.events)+len(tx.events))
	all = append(all, tx.base.events...)
	all = append(all, tx.events...)
	return eventsSince(all, afterSeq, clampLimit(limit)), nil
}

func (tx *memoryTx) NextID(_ context.Context, seq Sequence) (uint64, error) {
	v, ok := tx.seq[seq]
	if !ok {
		v = tx.base.seq[seq]
	}
	v++
	tx.seq[seq] = v
	return v, nil
}

func (tx *memoryTx) PutShipment(_ context.Context, sh shipment.Shipment) error {
	tx.shipments[sh.ID] = sh
	return nil
}

func (tx *memoryTx) PutPayment(_ context.Context, p shipment.Payment) error {
	tx.payments[p.ID] = p
	return nil
}

func (tx *memoryTx) AppendEvent(ctx context.Context, e *events.Event) error {
	seq, err := tx.NextID(ctx, SeqEvent)
	if err != nil {
		return err
	}
	e.Seq = seq
	tx.events = append(tx.events, *e)
	return nil
}

func listShipments(base, overlay map[uint64]shipment.Shipment, f Filter) []shipment.Shipment {
	ids := make([]uint64, 0, len(base)+len(overlay))
	for id := range base {
		if _, shadowed := overlay[id]; !shadowed {
			ids = append(ids, id)
		}
	}
	for id := range overlay {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	limit := f.limit()
	out := make([]shipment.Shipment, 0)
	for _, id := range ids {
		if id <= f.AfterID {
			continue
		}
		sh, ok := overlay[id]
		if !ok {
			sh = base[id]
		}
		if !f.Participant.IsZero() && !sh.Involves(f.Participant) {
			continue
		}
		out = append(out, sh)
		if len(out) == limit {
			break
		}
	}
	return out
}

func eventsSince(all []events.Event, afterSeq uint64, limit int) []events.Event {
	// Seq is dense and 1-based, so the first candidate sits at index afterSeq.
	start := afterSeq
	if start > uint64(len(all)) {
		start = uint64(len(all))
	}
	end := start + uint64(limit)
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}
	out := make([]events.Event, end-start)
	copy(out, all[start:end])
	return out
}
