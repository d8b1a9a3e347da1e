package multiplex

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/sessiond/pkg/event"
)

// Options configures a Multiplexer.
type Options struct {
	Logger     *slog.Logger
	RetryDelay time.Duration
}

// Multiplexer owns one Channel per event kind. The table is populated for
// event.Kinds at construction and never changes.
type Multiplexer struct {
	channels map[event.Kind]*Channel
}

// New creates a Multiplexer with an idle Channel for every kind in
// event.Kinds.
func New(opts Options) *Multiplexer {
	m := &Multiplexer{channels: make(map[event.Kind]*Channel, len(event.Kinds))}
	for _, k := range event.Kinds {
		m.channels[k] = NewChannel(k, opts.Logger, opts.RetryDelay)
	}
	return m
}

// Channel returns the channel for kind.
func (m *Multiplexer) Channel(kind event.Kind) (*Channel, bool) {
	c, ok := m.channels[kind]
	return c, ok
}

// Subscribe subscribes to the channel for kind.
func (m *Multiplexer) Subscribe(kind event.Kind, bufSize int) (*Subscription, error) {
	c, ok := m.channels[kind]
	if !ok {
		return nil, fmt.Errorf("multiplex: unknown event kind %q", kind)
	}
	return c.Subscribe(bufSize), nil
}

// Unsubscribe cancels a subscription obtained from Subscribe.
func (m *Multiplexer) Unsubscribe(kind event.Kind, sub *Subscription) {
	if c, ok := m.channels[kind]; ok {
		c.Unsubscribe(sub)
	}
}

// Switch rewires every channel to the source returned by sources for its
// kind. A nil sources function, or a nil returned source, idles the channel.
func (m *Multiplexer) Switch(sources func(event.Kind) event.Source) {
	for k, c := range m.channels {
		if sources == nil {
			c.Switch(nil)
			continue
		}
		c.Switch(sources(k))
	}
}

// Close completes every channel.
func (m *Multiplexer) Close() {
	for _, c := range m.channels {
		c.Close()
	}
}
