package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	mu     sync.Mutex
	events []Event
}

func (s *sliceSource) add(t Type, shipmentID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := New(t, shipmentID, 0, "", time.Now())
	e.Seq = uint64(len(s.events) + 1)
	s.events = append(s.events, e)
}

func (s *sliceSource) EventsSince(_ context.Context, after uint64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Seq > after {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type recorder struct {
	mu   sync.Mutex
	seqs []uint64
	fail error
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.seqs = append(r.seqs, e.Seq)
	return nil
}

func TestNew_AssignsUniqueIDs(t *testing.T) {
	a := New(ShipmentCreated, 1, 1, "CREATED", time.Now())
	b := New(ShipmentCreated, 1, 1, "CREATED", time.Now())
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Zero(t, a.Seq)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
}

func TestBroker_SubscribeAndCancel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(4)
	assert.Equal(t, 1, b.Subscribers())

	require.NoError(t, b.Publish(context.Background(), Event{Seq: 1, Type: ShipmentCreated}))
	got := <-ch
	assert.Equal(t, uint64(1), got.Seq)

	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, Event{Seq: 1}))
	require.NoError(t, b.Publish(ctx, Event{Seq: 2}))

	assert.Equal(t, uint64(1), (<-ch).Seq)
	select {
	case e := <-ch:
		t.Fatalf("expected dropped event, got %d", e.Seq)
	default:
	}
}

func TestRelay_FlushDeliversInOrder(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 5; i++ {
		src.add(StatusUpdated, 1)
	}
	rec := &recorder{}
	r := NewRelay(src, []Publisher{rec}, WithBatchSize(2))

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, rec.seqs)
	assert.Equal(t, uint64(5), r.Cursor())

	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_RetriesAfterPublisherError(t *testing.T) {
	src := &sliceSource{}
	src.add(ShipmentCreated, 1)
	src.add(ShipmentCreated, 2)

	rec := &recorder{fail: errors.New("redis down")}
	r := NewRelay(src, []Publisher{rec})

	_, err := r.Flush(context.Background())
	require.Error(t, err)
	assert.Zero(t, r.Cursor())

	rec.fail = nil
	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{1, 2}, rec.seqs)
}

func TestRelay_StartAfter(t *testing.T) {
	src := &sliceSource{}
	src.add(ShipmentCreated, 1)
	src.add(ShipmentCreated, 2)
	rec := &recorder{}

	r := NewRelay(src, []Publisher{rec}, WithStartAfter(1))
	_, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, rec.seqs)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	src := &sliceSource{}
	src.add(ShipmentCreated, 1)
	broker := NewBroker()
	ch, cancelSub := broker.Subscribe(8)
	defer cancelSub()

	r := NewRelay(src, []Publisher{broker}, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case e := <-ch:
		assert.Equal(t, uint64(1), e.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not deliver")
	}

	src.add(PaymentHandled, 1)
	r.Notify()
	select {
	case e := <-ch:
		assert.Equal(t, uint64(2), e.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not deliver after notify")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
