package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Relay moves committed events from the outbox to publishers. Delivery is
// at-least-once: a publisher error stops the batch and the same events are
// retried on the next pass.
type Relay struct {
	source     Source
	publishers []Publisher
	interval   time.Duration
	batch      int
	logger     *slog.Logger

	mu     sync.Mutex
	cursor uint64
	wake   chan struct{}
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize sets how many events are read per pass.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithStartAfter skips events up to and including seq.
func WithStartAfter(seq uint64) RelayOption {
	return func(r *Relay) { r.cursor = seq }
}

func NewRelay(source Source, publishers []Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		source:     source,
		publishers: publishers,
		interval:   time.Second,
		batch:      100,
		logger:     slog.Default().With("component", "events.relay"),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cursor returns the sequence of the last delivered event.
func (r *Relay) Cursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Notify wakes the relay loop without waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run delivers events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "relay pass failed", "error", err, "cursor", r.Cursor())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush delivers every pending event and returns how many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for {
		batch, err := r.source.EventsSince(ctx, r.cursor, r.batch)
		if err != nil {
			return delivered, err
		}
		for _, e := range batch {
			for _, p := range r.publishers {
				if err := p.Publish(ctx, e); err != nil {
					return delivered, err
				}
			}
			r.cursor = e.Seq
			delivered++
		}
		if len(batch) < r.batch {
			return delivered, nil
		}
	}
}
