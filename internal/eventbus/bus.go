package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler reacts to a published Event. A handler that panics is recovered
// and logged; it never affects other subscribers (spec.md §4.A Failure).
type Handler func(ctx context.Context, ev Event)

// Unsubscribe removes a subscription. Idempotent and safe to call multiple
// times.
type Unsubscribe func()

// Bus is the in-process publish/subscribe hub described in spec.md §4.A.
//
// Emit is non-blocking and never fails: delivery to a slow subscriber cannot
// stall the producer because each subscriber owns a bounded queue with
// drop-oldest overflow (counted). Per-subscriber delivery preserves emission
// order; there is no ordering guarantee across subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]struct{}
	fanout      Broadcaster // optional cross-process fan-out, nil if disabled
	logger      *slog.Logger

	overflowMu    sync.Mutex
	overflowCount map[*subscription]int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBroadcaster attaches a Broadcaster used for cross-process fan-out:
// every locally emitted event (that didn't itself arrive from a peer) is
// also published to the broadcast channel, and the paired subscriber
// re-injects peer events into this bus tagged as FromPeer so they are not
// re-broadcast and do not loop (spec.md §4.A).
func WithBroadcaster(b Broadcaster) Option {
	return func(bus *Bus) { bus.fanout = b }
}

// WithLogger attaches a structured logger used to report recovered handler
// panics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(bus *Bus) { bus.logger = l }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers:   make(map[*subscription]struct{}),
		logger:        slog.Default(),
		overflowCount: make(map[*subscription]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// subscription holds one subscriber's bounded delivery queue and worker
// loop, grounded on runtime/mcp/broadcast.go's channelBroadcaster.
type subscription struct {
	kind    Kind
	queue   chan Event
	handler Handler
	done    chan struct{}
	once    sync.Once
}

const defaultQueueSize = 256

// On registers handler for events of the given kind ("*" for every kind).
// Returns an Unsubscribe handle. Each subscriber gets its own bounded queue
// (256 events) drained by a dedicated goroutine; when the queue is full the
// oldest queued event is dropped to make room, and the drop is counted.
func (b *Bus) On(kind Kind, handler Handler) Unsubscribe {
	sub := &subscription{
		kind:    kind,
		queue:   make(chan Event, defaultQueueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go b.drain(sub)

	return func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

func (b *Bus) drain(sub *subscription) {
	for {
		select {
		case ev := <-sub.queue:
			b.dispatch(sub, ev)
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) dispatch(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: subscriber handler panicked", "kind", ev.Kind, "recover", r)
		}
	}()
	sub.handler(context.Background(), ev)
}

// Emit publishes ev to every matching subscriber. It never blocks the
// caller and never returns an error: a full subscriber queue drops its
// oldest pending event to make room for the new one.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	matches := make([]*subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		if sub.kind == KindAny || sub.kind == ev.Kind {
			matches = append(matches, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matches {
		b.enqueue(sub, ev)
	}

	if b.fanout != nil && !ev.fromPeer {
		b.fanout.Publish(ev)
	}
}

func (b *Bus) enqueue(sub *subscription, ev Event) {
	select {
	case sub.queue <- ev:
		return
	default:
	}
	// Queue full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-sub.queue:
		b.countOverflow(sub)
	default:
	}
	select {
	case sub.queue <- ev:
	default:
		// Another producer raced us and refilled the queue; count and drop.
		b.countOverflow(sub)
	}
}

func (b *Bus) countOverflow(sub *subscription) {
	b.overflowMu.Lock()
	b.overflowCount[sub]++
	b.overflowMu.Unlock()
}

// OverflowCount returns the total number of events dropped across all
// subscribers due to queue overflow, for metrics/observability.
func (b *Bus) OverflowCount() int64 {
	b.overflowMu.Lock()
	defer b.overflowMu.Unlock()
	var total int64
	for _, c := range b.overflowCount {
		total += c
	}
	return total
}

// InjectPeerEvent re-publishes an event received from a peer process into
// this bus's local subscribers, tagging it so it is not re-broadcast.
func (b *Bus) InjectPeerEvent(ev Event) {
	ev.fromPeer = true
	b.Emit(ev)
}

// Close unsubscribes every current subscriber. It does not close the
// attached Broadcaster, which the caller owns.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[*subscription]struct{})
	b.mu.Unlock()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}
