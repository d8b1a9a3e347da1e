// Package supervisor owns the lifecycle of named messaging sessions. It keeps
// the session registry, drives start/stop/unpair/logout/delete through the
// engine and its collaborators, rewires the event multiplexer whenever the
// set of running sessions changes, and runs the bootstrap and shutdown
// sequences of the process.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanamz/sessiond/pkg/apps"
	"github.com/germanamz/sessiond/pkg/auth"
	"github.com/germanamz/sessiond/pkg/bootstrap"
	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/datadir"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/logging"
	"github.com/germanamz/sessiond/pkg/media"
	"github.com/germanamz/sessiond/pkg/multiplex"
	"github.com/germanamz/sessiond/pkg/proxy"
	"github.com/germanamz/sessiond/pkg/store"
	"github.com/germanamz/sessiond/pkg/webhook"
)

// Options configures a Supervisor. Only Config and Selector matter for a
// working supervisor; every collaborator has a default.
type Options struct {
	Config   config.Config
	Selector engine.Selector

	Store     store.Store         // defaults to store.Memory
	Media     media.Factory       // defaults to media.LocalFactory under the data dir
	Webhooks  webhook.Conductor   // defaults to webhook.Nop
	Apps      apps.Apps           // defaults to apps.Nop
	Auth      auth.Repository     // defaults to auth.Local under the data dir
	Proxy     proxy.Resolver      // defaults to proxy.RoundRobin
	Bootstrap bootstrap.Bootstrap // defaults to bootstrap.Nop
	Logger    *slog.Logger

	// Multiplexer, if set, is used instead of a private one.
	Multiplexer *multiplex.Multiplexer
}

// Summary is what Start returns and the core of every listing entry.
type Summary struct {
	Name   string               `json:"name"`
	Status engine.Status        `json:"status"`
	Config config.SessionConfig `json:"config"`
	Me     *event.Me            `json:"me,omitempty"`
}

// SessionInfo is one entry of Sessions. Presence and LastActivity are unset
// for sessions that are not running.
type SessionInfo struct {
	Summary
	Engine       engine.Variant  `json:"engine,omitempty"`
	Presence     engine.Presence `json:"presence,omitempty"`
	LastActivity *time.Time      `json:"lastActivity,omitempty"`
}

// SessionDetailedInfo adds engine diagnostics to SessionInfo. EngineInfo is
// nil when the engine did not answer in time.
type SessionDetailedInfo struct {
	SessionInfo
	EngineInfo map[string]any `json:"engineInfo,omitempty"`
}

// hubBuffer is the per-channel buffer between the hub and the multiplexer.
const hubBuffer = 256

// Supervisor coordinates session lifecycles. It is safe for concurrent use.
// Operations on one session name are serialized; different names proceed
// independently.
type Supervisor struct {
	cfg       config.Config
	variant   engine.Variant
	construct engine.Constructor

	store    store.Store
	media    media.Factory
	webhooks webhook.Conductor
	apps     apps.Apps
	auth     auth.Repository
	proxy    proxy.Resolver
	boot     bootstrap.Bootstrap
	log      *slog.Logger

	registry *Registry
	mux      *multiplex.Multiplexer
	locks    keyedMutex

	// hub carries the enriched events of every running session. Each
	// running session feeds it through one forwarder; the multiplexer
	// channels read from it while any session runs.
	hub        *event.Bus
	rewireMu   sync.Mutex
	forwarders map[string]forwarder
	wired      bool

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Supervisor. The engine variant is resolved from
// opts.Config.Engine once, here.
func New(opts Options) (*Supervisor, error) {
	variant, err := engine.ParseVariant(opts.Config.Engine)
	if err != nil {
		return nil, fmt.Errorf("supervisor: Unknown whatsapp engine '%s': %w", opts.Config.Engine, err)
	}
	construct, err := opts.Selector.Select(variant)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	dd := datadir.New(opts.Config.DataDir)

	s := &Supervisor{
		cfg:       opts.Config,
		variant:   variant,
		construct: construct,
		store:     opts.Store,
		media:     opts.Media,
		webhooks:  opts.Webhooks,
		apps:      opts.Apps,
		auth:      opts.Auth,
		proxy:     opts.Proxy,
		boot:      opts.Bootstrap,
		log:       opts.Logger,
		registry:  NewRegistry(),
		mux:       opts.Multiplexer,

		hub:        event.NewBus(hubBuffer),
		forwarders: make(map[string]forwarder),
	}

	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.store == nil {
		s.store = &store.Memory{}
	}
	if s.media == nil {
		root := opts.Config.Media.Dir
		if root == "" {
			root = dd.MediaDir()
		}
		s.media = media.LocalFactory{Root: root, Mimetypes: opts.Config.Media.Mimetypes}
	}
	if s.webhooks == nil {
		s.webhooks = webhook.Nop{}
	}
	if s.apps == nil {
		s.apps = apps.Nop{}
	}
	if s.auth == nil {
		s.auth = auth.Local{Root: dd.AuthDir()}
	}
	if s.proxy == nil {
		s.proxy = proxy.RoundRobin
	}
	if s.boot == nil {
		s.boot = bootstrap.Nop{}
	}
	if s.mux == nil {
		s.mux = multiplex.New(multiplex.Options{Logger: s.log})
	}

	return s, nil
}

// Variant returns the engine variant every session runs on.
func (s *Supervisor) Variant() engine.Variant { return s.variant }

// Registry exposes the session registry for read access.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Multiplexer returns the event multiplexer.
func (s *Supervisor) Multiplexer() *multiplex.Multiplexer { return s.mux }

// Exists reports whether name is running.
func (s *Supervisor) Exists(name string) bool { return s.registry.Exists(name) }

// IsRunning reports whether name is running.
func (s *Supervisor) IsRunning(name string) bool { return s.registry.IsRunning(name) }

// Upsert sets and persists the configuration of name. A nil cfg stores an
// empty configuration. A running session keeps the configuration it was
// started with until restarted.
func (s *Supervisor) Upsert(ctx context.Context, name string, cfg *config.SessionConfig) error {
	c := cfg.Clone()
	s.registry.Upsert(name, c)
	if err := s.store.Save(ctx, name, c); err != nil {
		return fmt.Errorf("supervisor: upsert %q: %w", name, err)
	}
	return nil
}

// Start creates, registers and starts the session called name. A failure in
// the apps before-start hook or in the engine start does not fail the call:
// the returned summary has status FAILED instead. Cancelling ctx does not
// abort a start in progress.
func (s *Supervisor) Start(ctx context.Context, name string) (Summary, error) {
	if s.closed.Load() {
		return Summary{}, ErrClosed
	}
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(name)
	defer unlock()

	if s.registry.IsRunning(name) {
		return Summary{}, alreadyStarted(name)
	}

	cfg, _ := s.registry.Config(name)
	log := logging.ForSession(s.log, name, cfg.Debug)

	storage, err := s.media.Build(ctx, name, log)
	if err != nil {
		return Summary{}, fmt.Errorf("supervisor: start %q: %w", name, err)
	}
	if err := storage.Init(ctx); err != nil {
		return Summary{}, fmt.Errorf("supervisor: start %q: %w", name, err)
	}

	proxyCfg := proxy.Resolve(s.proxy, cfg.Proxy, s.cfg.Proxy, s.registry.RunningNames(), name)

	if err := s.auth.Init(ctx, name); err != nil {
		return Summary{}, fmt.Errorf("supervisor: start %q: %w", name, err)
	}

	session, err := s.construct(engine.Params{
		Name:         name,
		Variant:      s.variant,
		Config:       cfg,
		Media:        storage,
		Proxy:        proxyCfg,
		Logger:       log,
		PrintQR:      s.cfg.PrintQR,
		Ignore:       cfg.Ignore,
		EngineConfig: engine.EngineConfig(s.variant, s.cfg.Engines),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("supervisor: start %q: %w", name, err)
	}

	s.registry.Register(session)
	s.rewire()
	s.webhooks.Configure(session, config.MergeWebhooks(&cfg, s.cfg.Webhook))

	log.Info("starting session", "engine", s.variant)

	if err := s.apps.BeforeSessionStart(ctx, session, s.store); err != nil {
		log.Error("apps before-start hook failed", "error", err)
		session.SetStatus(engine.StatusFailed)
	}

	if session.Status() != engine.StatusFailed {
		if err := session.Start(ctx); err != nil {
			log.Error("engine start failed", "error", err)
			session.SetStatus(engine.StatusFailed)
		} else if err := s.apps.AfterSessionStart(ctx, session, s.store); err != nil {
			log.Error("apps after-start hook failed", "error", err)
		}
	}

	return summarize(session), nil
}

// Stop stops the session called name and unregisters it. Stopping a name
// that is not running is a no-op. An engine stop failure is returned, and the
// session left registered, unless silent is set.
func (s *Supervisor) Stop(ctx context.Context, name string, silent bool) error {
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(name)
	defer unlock()

	session, ok := s.registry.Session(name)
	if !ok {
		s.log.Debug("session is not running", "session", name)
		return nil
	}
	return s.stopLocked(ctx, session, silent)
}

// stopLocked must be called with the name lock held.
func (s *Supervisor) stopLocked(ctx context.Context, session engine.Session, silent bool) error {
	name := session.Name()
	s.log.Info("stopping session", "session", name)

	if err := session.Stop(ctx); err != nil {
		s.log.Warn("session stop failed", "session", name, "error", err)
		if !silent {
			return fmt.Errorf("supervisor: stop %q: %w", name, err)
		}
		// The session leaves the registry anyway; release what it holds.
		if c, ok := session.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.log.Warn("session close failed", "session", name, "error", err)
			}
		}
	}
	session.SetStatus(engine.StatusStopped)

	s.registry.Remove(name)
	s.rewire()
	sleep(s.cfg.Timeouts.StopGrace)

	return nil
}

// Unpair asks the engine to unlink the account of a running session.
// Failures are logged, never returned.
func (s *Supervisor) Unpair(ctx context.Context, name string) {
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(name)
	defer unlock()

	session, ok := s.registry.Session(name)
	if !ok {
		s.log.Debug("session is not running", "session", name)
		return
	}

	s.log.Info("unpairing session", "session", name)
	if err := session.Unpair(ctx); err != nil {
		s.log.Warn("session unpair failed", "session", name, "error", err)
	}
	sleep(s.cfg.Timeouts.UnpairGrace)
}

// Logout wipes the stored auth state of name. The running session, if any,
// is left alone.
func (s *Supervisor) Logout(ctx context.Context, name string) error {
	if err := s.auth.Clean(ctx, name); err != nil {
		return fmt.Errorf("supervisor: logout %q: %w", name, err)
	}
	return nil
}

// Delete removes every trace of name: app bindings, the running session
// (stopped silently), its configuration and its persisted configuration.
func (s *Supervisor) Delete(ctx context.Context, name string) error {
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(name)
	defer unlock()

	if err := s.apps.RemoveBySession(ctx, name); err != nil {
		return fmt.Errorf("supervisor: delete %q: %w", name, err)
	}

	if session, ok := s.registry.Session(name); ok {
		_ = s.stopLocked(ctx, session, true)
	}

	s.registry.Delete(name)
	s.rewire()

	if err := s.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("supervisor: delete %q: %w", name, err)
	}
	return nil
}

// Session returns the running session called name.
func (s *Supervisor) Session(name string) (engine.Session, error) {
	session, ok := s.registry.Session(name)
	if !ok {
		return nil, notFound(name)
	}
	return session, nil
}

// Sessions lists the running sessions, and with all also a STOPPED entry
// for every configured name that is not running. The result is sorted by
// name and holds one entry per name.
func (s *Supervisor) Sessions(all bool) []SessionInfo {
	running := s.registry.Running()
	out := make([]SessionInfo, 0, len(running))
	seen := make(map[string]struct{}, len(running))

	for _, session := range running {
		out = append(out, s.runningInfo(session))
		seen[session.Name()] = struct{}{}
	}

	if all {
		for _, name := range s.registry.Configured() {
			if _, ok := seen[name]; ok {
				continue
			}
			if info, ok := s.stoppedInfo(name); ok {
				out = append(out, info)
			}
		}
	}

	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// SessionInfo describes name, including engine diagnostics for a running
// session when the engine answers within the engine info timeout. It returns
// nil for a name that is neither running nor configured.
func (s *Supervisor) SessionInfo(ctx context.Context, name string) *SessionDetailedInfo {
	session, ok := s.registry.Session(name)
	if !ok {
		info, ok := s.stoppedInfo(name)
		if !ok {
			return nil
		}
		return &SessionDetailedInfo{SessionInfo: info}
	}

	return &SessionDetailedInfo{
		SessionInfo: s.runningInfo(session),
		EngineInfo:  s.engineInfo(ctx, session),
	}
}

// Subscribe subscribes to the shared channel of kind. The subscription
// survives session restarts and ends only at Shutdown.
func (s *Supervisor) Subscribe(kind event.Kind, bufSize int) (*multiplex.Subscription, error) {
	sub, err := s.mux.Subscribe(kind, bufSize)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	return sub, nil
}

// Unsubscribe cancels a subscription obtained from Subscribe.
func (s *Supervisor) Unsubscribe(kind event.Kind, sub *multiplex.Subscription) {
	s.mux.Unsubscribe(kind, sub)
}

// rewire brings the event wiring in line with the running sessions: a newly
// registered session gets a forwarder into the hub, a removed or replaced
// one loses it, and the multiplexer is switched onto the hub while any
// session runs and idled otherwise. Sessions that keep running keep their
// forwarder, so their events flow uninterrupted.
func (s *Supervisor) rewire() {
	s.rewireMu.Lock()
	defer s.rewireMu.Unlock()

	running := s.registry.Running()
	live := make(map[string]struct{}, len(running))

	if len(running) > 0 && !s.wired {
		s.mux.Switch(s.hub.Source)
		s.wired = true
	}

	for _, session := range running {
		name := session.Name()
		live[name] = struct{}{}

		if f, ok := s.forwarders[name]; ok {
			if f.session == session {
				continue
			}
			f.cancel()
		}
		s.forwarders[name] = s.forward(session)
	}

	for name, f := range s.forwarders {
		if _, ok := live[name]; !ok {
			f.cancel()
			delete(s.forwarders, name)
		}
	}

	if len(running) == 0 && s.wired {
		s.mux.Switch(nil)
		s.wired = false
	}
}

type forwarder struct {
	session engine.Session
	cancel  context.CancelFunc
}

// forward subscribes to every event kind of session before returning and
// republishes the enriched events on the hub until cancelled or until the
// session's sources finish.
func (s *Supervisor) forward(session engine.Session) forwarder {
	srcs := make([]event.Source, 0, len(event.Kinds))
	for _, kind := range event.Kinds {
		srcs = append(srcs, session.Events(kind))
	}
	src := event.Merge(srcs...).Map(enrich(session))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := src(ctx, s.hub.Publish); err != nil {
			s.log.Warn("session event forwarding failed", "session", session.Name(), "error", err)
		}
	}()

	return forwarder{session: session, cancel: cancel}
}

// enrich stamps events with the identity of the session that produced them.
func enrich(session engine.Session) func(event.Event) event.Event {
	return func(e event.Event) event.Event {
		if e.Session == "" {
			e.Session = session.Name()
		}
		if e.Engine == "" {
			e.Engine = string(session.Variant())
		}
		if e.Me == nil {
			e.Me = session.Me()
		}
		return e
	}
}

func (s *Supervisor) engineInfo(ctx context.Context, session engine.Session) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.EngineInfo)
	defer cancel()

	type result struct {
		info map[string]any
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := session.EngineInfo(ctx)
		ch <- result{info, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			s.log.Debug("engine info failed", "session", session.Name(), "error", r.err)
			return nil
		}
		return r.info
	case <-ctx.Done():
		s.log.Debug("engine info timed out", "session", session.Name())
		return nil
	}
}

func (s *Supervisor) runningInfo(session engine.Session) SessionInfo {
	info := SessionInfo{
		Summary:  summarize(session),
		Engine:   session.Variant(),
		Presence: session.Presence(),
	}
	if cfg, ok := s.registry.Config(session.Name()); ok {
		info.Config = cfg
	}
	if at := session.LastActivity(); !at.IsZero() {
		info.LastActivity = &at
	}
	return info
}

func (s *Supervisor) stoppedInfo(name string) (SessionInfo, bool) {
	cfg, ok := s.registry.Config(name)
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{
		Summary: Summary{Name: name, Status: engine.StatusStopped, Config: cfg},
		Engine:  s.variant,
	}, true
}

func summarize(session engine.Session) Summary {
	return Summary{
		Name:   session.Name(),
		Status: session.Status(),
		Config: session.Config(),
		Me:     session.Me(),
	}
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
