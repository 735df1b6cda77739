package bus

import (
	"context"
	"errors"
	"sync"

	"pulseoracle/internal/domain"
)

const DefaultCapacity = 256

var (
	ErrClosed       = errors.New("event bus closed")
	ErrSubscription = errors.New("subscription closed")
)

// Bus is a bounded in-process broadcast channel. Publish never blocks:
// events are written into a fixed ring and every subscriber owns a cursor
// into it. A subscriber that falls more than the ring capacity behind skips
// the overwritten events and resumes from the oldest retained one, learning
// how many it missed; it is never disconnected for lag.
type Bus struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf    []domain.OracleEvent
	next   uint64 // sequence number of the next published event
	subs   int
	closed bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b := &Bus{buf: make([]domain.OracleEvent, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends the event and wakes every waiting subscriber. Safe from
// any goroutine; O(1) regardless of subscriber count or speed.
func (b *Bus) Publish(ev domain.OracleEvent) {
	b.mu.Lock()
	if !b.closed {
		b.buf[b.next%uint64(len(b.buf))] = ev
		b.next++
	}
	b.mu.Unlock()

	b.cond.Broadcast()
}

// Close stops publication and wakes all pending receives with ErrClosed once
// they drain the retained tail.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cond.Broadcast()
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.subs
}

// Subscribe registers a receiver starting at the next published event.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs++
	return &Subscription{bus: b, cursor: b.next}
}

// Subscription is a single receiver's cursor into the bus ring. Not safe for
// concurrent Recv calls; each subscriber connection drives exactly one.
type Subscription struct {
	bus    *Bus
	cursor uint64
	closed bool
}

// Recv blocks until an event is available, the context is done, or the bus
// closes. The skipped count is how many events were lost to lag before the
// returned one; zero for an up-to-date subscriber.
func (s *Subscription) Recv(ctx context.Context) (domain.OracleEvent, uint64, error) {
	b := s.bus

	stop := context.AfterFunc(ctx, func() {
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for s.cursor == b.next && !b.closed && !s.closed && ctx.Err() == nil {
		b.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return domain.OracleEvent{}, 0, err
	}
	if s.closed {
		return domain.OracleEvent{}, 0, ErrSubscription
	}
	if s.cursor == b.next {
		return domain.OracleEvent{}, 0, ErrClosed
	}

	capacity := uint64(len(b.buf))
	var skipped uint64
	if b.next-s.cursor > capacity {
		oldest := b.next - capacity
		skipped = oldest - s.cursor
		s.cursor = oldest
	}

	ev := b.buf[s.cursor%capacity]
	s.cursor++
	return ev, skipped, nil
}

// Close releases the subscription and wakes a pending Recv.
func (s *Subscription) Close() {
	b := s.bus

	b.mu.Lock()
	if !s.closed {
		s.closed = true
		b.subs--
	}
	b.mu.Unlock()

	b.cond.Broadcast()
}
