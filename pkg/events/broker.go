package events

import (
	"context"
	"log/slog"
	"sync"
)

// Broker fans events out to in-process subscribers. Slow subscribers drop
// events rather than block the relay; they can catch up by polling the store.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	logger *slog.Logger
}

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[uint64]chan Event),
		logger: slog.Default().With("component", "events.broker"),
	}
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish implements Publisher.
func (b *Broker) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.WarnContext(ctx, "subscriber full, dropping event", "subscriber", id, "seq", e.Seq, "type", e.Type)
		}
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
