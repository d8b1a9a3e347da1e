// Package multiplex provides long-lived broadcast channels whose upstream
// producer can be replaced at any time without disconnecting subscribers.
//
// A Channel runs at most one producer (an event.Source) and shares its output
// with every subscriber. Switching installs a new producer atomically: events
// from the previous producer are never delivered after Switch returns. A
// producer that fails is restarted; a producer that finishes leaves the
// channel idle but open. Only Close completes the subscribers.
package multiplex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/germanamz/sessiond/pkg/event"
)

// DefaultRetryDelay is the pause before a failed producer is restarted.
const DefaultRetryDelay = 100 * time.Millisecond

// Subscription receives events from a Channel. C is closed exactly once, when
// the channel is closed or the subscription is cancelled.
type Subscription struct {
	C  <-chan event.Event
	ch chan event.Event
}

// Channel is a switchable, shared, self-recovering broadcast point for one
// event kind. It is safe for concurrent use.
type Channel struct {
	kind       event.Kind
	log        *slog.Logger
	retryDelay time.Duration

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

// NewChannel creates an idle Channel for kind.
func NewChannel(kind event.Kind, log *slog.Logger, retryDelay time.Duration) *Channel {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Channel{
		kind:       kind,
		log:        log,
		retryDelay: retryDelay,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Kind returns the event kind this channel carries.
func (c *Channel) Kind() event.Kind { return c.kind }

// Subscribe registers a consumer with the given buffer size. Events are
// dropped for a consumer whose buffer is full. Subscribing to a closed
// channel returns an already closed subscription.
func (c *Channel) Subscribe(bufSize int) *Subscription {
	ch := make(chan event.Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(ch)
		return sub
	}
	c.subs[sub] = struct{}{}

	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call more
// than once and after Close.
func (c *Channel) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		close(sub.ch)
	}
}

// Subscribers returns the number of active subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.subs)
}

// Switch replaces the current producer with src. A nil src leaves the
// channel idle. Switch never completes subscribers and is a no-op on a
// closed channel.
func (c *Channel) Switch(src event.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.stopLocked()
	c.gen++

	if src == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.pump(ctx, c.gen, src)
}

// Close stops the producer and completes every subscriber. Only the first
// call has an effect.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.stopLocked()
	c.gen++

	for sub := range c.subs {
		delete(c.subs, sub)
		close(sub.ch)
	}
}

// stopLocked cancels the running producer. Must be called with mu held.
func (c *Channel) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Channel) pump(ctx context.Context, gen uint64, src event.Source) {
	emit := func(e event.Event) { c.publish(gen, e) }

	for {
		err := runSource(ctx, src, emit)
		if ctx.Err() != nil || err == nil {
			return
		}

		c.log.Warn("event source failed, resubscribing", "event", c.kind, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

// runSource calls src, converting a panic into an error so the pump can
// resubscribe.
func runSource(ctx context.Context, src event.Source, emit func(event.Event)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("multiplex: source panicked: %v", r)
		}
	}()

	return src(ctx, emit)
}

// publish delivers e to every subscriber if gen is still the current
// producer generation.
func (c *Channel) publish(gen uint64, e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}

	for sub := range c.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}
