// Package bus is the in-process publish/subscribe fan-out every component
// talks through.
//
// Post delivers an event to each subscriber in subscription order and
// returns once the last one has handled it. PostSync is the fire-and-forget
// variant for callers that must not block (log handlers, timers): events go
// into a bounded queue drained by Run at a fixed rate, and are dropped when
// the queue is full.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/leafbus/internal/metrics"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

const (
	defaultQueueSize = 20
	defaultSpacing   = 100 * time.Millisecond
)

// Subscriber handles events posted to a Bus. Implementations must be
// comparable (typically a pointer) so the bus can detect duplicates.
type Subscriber interface {
	Receive(ctx context.Context, e wire.Event) error
}

// DropPolicy selects which event PostSync discards when the queue is full.
type DropPolicy int

const (
	// DropNewest discards the event being posted.
	DropNewest DropPolicy = iota
	// DropOldest discards the longest-queued event to make room.
	DropOldest
)

func (p DropPolicy) String() string {
	if p == DropOldest {
		return "oldest"
	}
	return "newest"
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueue sets the PostSync queue capacity and drop policy.
func WithQueue(size int, policy DropPolicy) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
		b.policy = policy
	}
}

// WithSpacing sets the minimum interval between drained PostSync events.
func WithSpacing(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.spacing = d
		}
	}
}

// WithLogger sets the logger used for subscriber errors.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus fans events out to subscribers.
type Bus struct {
	self   string
	logger *slog.Logger

	mu   sync.RWMutex
	subs []Subscriber

	queueSize int
	policy    DropPolicy
	spacing   time.Duration
	queue     chan wire.Event
	dropMu    sync.Mutex
}

// New creates a bus whose own address is self (e.g. "#earth" on the hub,
// "tree:branch" on a gateway).
func New(self string, opts ...Option) *Bus {
	b := &Bus{
		self:      self,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
		spacing:   defaultSpacing,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan wire.Event, b.queueSize)
	return b
}

// Addr returns the bus's own address.
func (b *Bus) Addr() string { return b.self }

// Subscribe appends s to the delivery list. Subscribing the same value
// twice is a programming error and panics.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.subs, s) {
		panic(fmt.Sprintf("bus: %T subscribed twice", s))
	}
	b.subs = append(b.subs, s)
}

// Unsubscribe removes s. It is a no-op if s is not subscribed.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := slices.Index(b.subs, s); i >= 0 {
		b.subs = slices.Delete(b.subs, i, i+1)
	}
}

// Subscribers returns the number of subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Post delivers e to every subscriber, one at a time, in subscription
// order. Subscribers may post from inside Receive. A subscriber error is
// logged and does not stop delivery to the rest.
func (b *Bus) Post(ctx context.Context, e wire.Event) {
	metrics.Posted.WithLabelValues(string(e.Kind())).Inc()

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.Receive(ctx, e); err != nil {
			b.logger.Debug("bus: subscriber failed", "subscriber", fmt.Sprintf("%T", s), "type", e.Kind(), "err", err)
		}
	}
}

// PostSync queues e for delivery by Run without blocking. When the queue
// is full an event is dropped according to the bus's DropPolicy.
func (b *Bus) PostSync(e wire.Event) {
	select {
	case b.queue <- e:
		return
	default:
	}
	if b.policy == DropNewest {
		metrics.Dropped.Inc()
		return
	}

	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	select {
	case <-b.queue:
		metrics.Dropped.Inc()
	default:
	}
	select {
	case b.queue <- e:
	default:
		metrics.Dropped.Inc()
	}
}

// Pending returns the number of queued PostSync events.
func (b *Bus) Pending() int { return len(b.queue) }

// Run drains the PostSync queue until ctx is cancelled, posting at most
// one event per spacing interval.
func (b *Bus) Run(ctx context.Context) {
	lim := rate.NewLimiter(rate.Every(b.spacing), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			if err := lim.Wait(ctx); err != nil {
				return
			}
			b.Post(ctx, e)
		}
	}
}
