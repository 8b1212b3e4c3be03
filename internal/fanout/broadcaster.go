package fanout

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/meeting-scribe/internal/metrics"
)

type subscriber[T any] struct {
	name    string
	ch      chan T
	dropped atomic.Uint64
}

// Broadcaster publishes values to every subscriber's own bounded channel.
// Publish never blocks: a value is dropped for any subscriber whose queue
// is full.
type Broadcaster[T any] struct {
	mu       sync.RWMutex
	subs     []*subscriber[T]
	capacity int
	closed   bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster whose subscriber queues hold capacity values.
func NewBroadcaster[T any](capacity int, logger *slog.Logger, m *metrics.Metrics) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster[T]{
		capacity: capacity,
		logger:   logger,
		metrics:  m,
	}
}

// Subscribe registers a named subscriber and returns its channel. The
// channel is closed by Close. Subscribing after Close returns a closed channel.
func (b *Broadcaster[T]) Subscribe(name string) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber[T]{name: name, ch: make(chan T, b.capacity)}
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish delivers v to every subscriber that has room for it.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
		default:
			sub.dropped.Add(1)
			b.metrics.RecordFanoutDropped(sub.name)
			b.logger.Warn("Subscriber queue full, dropping update",
				slog.String("subscriber", sub.name),
				slog.Int("capacity", b.capacity))
		}
	}
}

// Close closes every subscriber channel. Queued values remain readable.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
}

// Dropped returns how many values were dropped for the named subscriber.
func (b *Broadcaster[T]) Dropped(name string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n uint64
	for _, sub := range b.subs {
		if sub.name == name {
			n += sub.dropped.Load()
		}
	}
	return n
}
