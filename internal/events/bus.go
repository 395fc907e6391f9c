// Package events implements the bounded broadcast Event Bus and the State
// Projector described in spec.md §4.2. It reimplements, in-process, the
// fan-out shape the teacher got from nats.Conn pub/sub — a plain NATS core
// subject does not give lag reporting or replay-free projection for free,
// so the broadcaster and per-subscriber drop-oldest buffers are hand-rolled
// here instead.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mnemosyne/mnemosyne/internal/metrics"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// Bus is a bounded broadcast channel with capacity N per subscriber
// (spec.md §4.2). Publish is always non-blocking; a subscriber that falls
// behind drops its oldest buffered event and its lag counter advances.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	capacity   int
	instanceID string
	seq        uint64
}

// NewBus creates a Bus with the given per-subscriber buffer capacity.
// instanceID disambiguates event ids across processes (spec.md §4.2).
func NewBus(capacity int, instanceID string) *Bus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Bus{
		subs:       make(map[string]*Subscription),
		capacity:   capacity,
		instanceID: instanceID,
	}
}

// Subscription is a receiver returned by Subscribe. Callers drain it with
// Recv and release it with Unsubscribe when done.
type Subscription struct {
	id  string
	bus *Bus

	mu     sync.Mutex
	buf    []types.Event
	notify chan struct{}
	closed bool
	lagged int64
}

// Subscribe returns a new receiver. Late joiners do not replay history —
// they only see events published after Subscribe returns (spec.md §4.2).
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		bus:    b,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	metrics.EventBusSubscribers.Inc()
	return sub
}

// Unsubscribe removes the subscription from the bus. Recv called after
// Unsubscribe returns immediately with ok=false.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	metrics.EventBusSubscribers.Dec()

	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
}

// Recv blocks until an event is available, the subscription is closed, or
// ctx is done.
func (s *Subscription) Recv(ctx context.Context) (types.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return e, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return types.Event{}, false
		}

		select {
		case <-s.notify:
			continue
		case <-ctx.Done():
			return types.Event{}, false
		}
	}
}

// Lag reports how many events this subscription has dropped because it
// fell behind by more than the bus capacity.
func (s *Subscription) Lag() int64 {
	return atomic.LoadInt64(&s.lagged)
}

func (s *Subscription) push(e types.Event, capacity int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= capacity {
		s.buf = s.buf[1:]
		atomic.AddInt64(&s.lagged, 1)
		metrics.EventBusLagTotal.Inc()
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Publish stamps the event (assigning an id, timestamp, and instance_id
// when unset) and fans it out to every current subscriber. Publish never
// blocks on a slow subscriber (spec.md §4.2).
func (b *Bus) Publish(e types.Event) types.Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.InstanceID == "" {
		e.InstanceID = b.instanceID
	}
	atomic.AddUint64(&b.seq, 1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.push(e, b.capacity)
	}
	return e
}

// SubscriberCount reports the number of currently registered subscribers,
// used by the httpapi and metrics packages to report bus health.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// InstanceID returns the id this Bus stamps onto events published with no
// InstanceID of their own, used by the httpapi's /health endpoint.
func (b *Bus) InstanceID() string {
	return b.instanceID
}
