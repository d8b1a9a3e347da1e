package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/media"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStopped    Status = "STOPPED"
	StatusStarting   Status = "STARTING"
	StatusScanQRCode Status = "SCAN_QR_CODE"
	StatusWorking    Status = "WORKING"
	StatusFailed     Status = "FAILED"
)

// Presence is the last known presence of the account behind a session.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// Params is everything an engine needs to construct a session.
type Params struct {
	Name         string
	Variant      Variant
	Config       config.SessionConfig
	Media        media.Storage
	Proxy        *config.ProxyConfig
	Logger       *slog.Logger
	PrintQR      bool
	Ignore       config.IgnoreConfig
	EngineConfig any
}

// Session is a running messaging session owned by the supervisor.
// Implementations must be safe for concurrent use.
type Session interface {
	Name() string
	Variant() Variant
	Config() config.SessionConfig

	Status() Status
	SetStatus(Status)
	Presence() Presence
	Me() *event.Me
	LastActivity() time.Time

	// Events returns the producer of events of the given kind. Events
	// emitted after Events returns reach the producer's first run.
	Events(kind event.Kind) event.Source

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Unpair(ctx context.Context) error

	// EngineInfo returns engine-specific diagnostics.
	EngineInfo(ctx context.Context) (map[string]any, error)
}
