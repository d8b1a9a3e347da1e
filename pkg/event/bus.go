package event

import (
	"context"
	"sync"
)

// Subscription receives events from a Bus.
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// Bus fans out events to all active subscribers. Engines publish into a Bus
// and expose per-kind Sources over it. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	buf    int
}

// NewBus creates a Bus whose Sources subscribe with the given buffer size.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		buf:  bufSize,
	}
}

// Subscribe creates a new subscription with the given channel buffer size.
// The caller should read from sub.C and eventually call Unsubscribe. On a
// closed Bus the returned subscription's channel is already closed.
func (b *Bus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish sends an event to all subscribers. If a subscriber's buffer is full
// the event is dropped for that subscriber so a slow consumer cannot stall
// the engine.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Close closes every subscription. Sources reading from the bus finish and
// later Publish calls are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Source returns a Source producing the events of the given kind published
// to the bus. The subscription is taken when Source is called, so nothing
// published between that call and the first run is missed. The first run
// drains that subscription; later runs subscribe again. A Source that is
// never run holds its subscription until the bus is closed. It finishes
// without error when the bus is closed.
func (b *Bus) Source(kind Kind) Source {
	var mu sync.Mutex
	pending := b.Subscribe(b.buf)

	return func(ctx context.Context, emit func(Event)) error {
		mu.Lock()
		sub := pending
		pending = nil
		mu.Unlock()

		if sub == nil {
			sub = b.Subscribe(b.buf)
		}
		defer b.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-sub.C:
				if !ok {
					return nil
				}
				if e.Kind == kind {
					emit(e)
				}
			}
		}
	}
}
