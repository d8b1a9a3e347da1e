package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/logging"
)

// Base carries the engine-independent state of a session: identity, status,
// presence, activity and the per-session event bus. Engines embed it and
// implement the remaining Session methods.
type Base struct {
	name    string
	variant Variant
	cfg     config.SessionConfig
	log     *slog.Logger
	bus     *event.Bus

	mu       sync.RWMutex
	status   Status
	presence Presence
	me       *event.Me
	activity time.Time
}

// NewBase creates a Base in STARTING status from p.
func NewBase(p Params) *Base {
	log := p.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Base{
		name:    p.Name,
		variant: p.Variant,
		cfg:     p.Config.Clone(),
		log:     log,
		bus:     event.NewBus(0),
		status:  StatusStarting,
	}
}

func (b *Base) Name() string                 { return b.name }
func (b *Base) Variant() Variant             { return b.variant }
func (b *Base) Config() config.SessionConfig { return b.cfg.Clone() }
func (b *Base) Logger() *slog.Logger         { return b.log }

// Status returns the current status.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStatus updates the status and emits a session.status event when it
// changes.
func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	changed := b.status != s
	b.status = s
	b.mu.Unlock()

	if changed {
		b.log.Debug("session status changed", "status", s)
		b.Emit(event.SessionStatus, map[string]any{"name": b.name, "status": s})
	}
}

// Presence returns the last known presence, empty if unknown.
func (b *Base) Presence() Presence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.presence
}

// SetPresence records the account presence.
func (b *Base) SetPresence(p Presence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence = p
}

// Me returns a copy of the logged-in account, nil before pairing.
func (b *Base) Me() *event.Me {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.me == nil {
		return nil
	}
	me := *b.me
	return &me
}

// SetMe records the logged-in account.
func (b *Base) SetMe(me *event.Me) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if me == nil {
		b.me = nil
		return
	}
	cp := *me
	b.me = &cp
}

// LastActivity returns the time of the last emitted event, zero if none.
func (b *Base) LastActivity() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.activity
}

// Emit publishes an event of the given kind on the session bus.
func (b *Base) Emit(kind event.Kind, payload any) {
	e := event.New(kind, payload)
	e.Session = b.name
	e.Engine = string(b.variant)

	b.mu.Lock()
	b.activity = e.Timestamp
	b.mu.Unlock()

	b.bus.Publish(e)
}

// Events returns the producer for events of kind. It is subscribed to the
// session bus on return.
func (b *Base) Events(kind event.Kind) event.Source {
	return b.bus.Source(kind)
}

// CloseEvents finishes every producer returned by Events.
func (b *Base) CloseEvents() {
	b.bus.Close()
}
