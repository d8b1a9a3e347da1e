// Package stream serves the multiplexed session events over WebSocket.
// Clients connect to the handler with ?events=a,b (all kinds when omitted
// or "*") and optionally ?session=name, and receive one JSON text frame per
// event until they disconnect or the daemon shuts down.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/logging"
	"github.com/germanamz/sessiond/pkg/multiplex"
)

// DefaultBuffer is the per-kind subscription buffer of a connection.
const DefaultBuffer = 64

// Subscriber hands out shared event subscriptions.
type Subscriber interface {
	Subscribe(kind event.Kind, bufSize int) (*multiplex.Subscription, error)
	Unsubscribe(kind event.Kind, sub *multiplex.Subscription)
}

// Handler is an http.Handler upgrading requests to event streams.
type Handler struct {
	subs   Subscriber
	log    *slog.Logger
	buf    int
	accept *websocket.AcceptOptions
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.log = l } }

// WithBuffer sets the per-kind subscription buffer.
func WithBuffer(n int) Option { return func(h *Handler) { h.buf = n } }

// WithOriginPatterns allows cross-origin clients matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.accept = &websocket.AcceptOptions{OriginPatterns: patterns} }
}

// NewHandler creates a Handler streaming from subs.
func NewHandler(subs Subscriber, opts ...Option) *Handler {
	h := &Handler{subs: subs, log: logging.Discard(), buf: DefaultBuffer}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ParseKinds parses a comma separated list of event kinds. Empty input and
// "*" select every kind.
func ParseKinds(raw string) ([]event.Kind, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return event.Kinds, nil
	}

	var kinds []event.Kind
	seen := make(map[event.Kind]bool)
	for _, part := range strings.Split(raw, ",") {
		k, err := event.ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds, err := ParseKinds(r.URL.Query().Get("events"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	session := r.URL.Query().Get("session")

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := conn.CloseRead(r.Context())

	events, err := h.subscribe(ctx, kinds)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, err.Error())
		return
	}

	h.log.Debug("event stream opened", "kinds", len(kinds), "session", session)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if session != "" && e.Session != session {
				continue
			}
			if err := wsjson.Write(ctx, conn, e); err != nil {
				h.log.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

// subscribe fans the subscriptions for kinds into one channel. The channel
// closes once every subscription has ended; subscriptions are released when
// ctx is done.
func (h *Handler) subscribe(ctx context.Context, kinds []event.Kind) (<-chan event.Event, error) {
	subs := make([]*multiplex.Subscription, 0, len(kinds))
	release := func() {
		for i, sub := range subs {
			h.subs.Unsubscribe(kinds[i], sub)
		}
	}

	for _, k := range kinds {
		sub, err := h.subs.Subscribe(k, h.buf)
		if err != nil {
			release()
			return nil, fmt.Errorf("stream: %w", err)
		}
		subs = append(subs, sub)
	}

	out := make(chan event.Event, h.buf)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-sub.C:
					if !ok {
						return
					}
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		release()
		close(out)
	}()

	return out, nil
}
