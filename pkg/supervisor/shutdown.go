package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/germanamz/sessiond/pkg/config"
)

// Bootstrap prepares the process: it initializes the store, loads persisted
// configurations as stopped sessions, migrates apps, brings up the shared
// engine resource and finally starts the sessions listed in start_sessions.
// A failing auto-start is logged and does not fail Bootstrap.
func (s *Supervisor) Bootstrap(ctx context.Context) error {
	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("supervisor: bootstrap: %w", err)
	}

	stored, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: bootstrap: %w", err)
	}
	for name, cfg := range stored {
		s.registry.Upsert(name, cfg)
	}
	s.log.Info("session configs loaded", "count", len(stored))

	if err := s.apps.Migrate(ctx, s.store); err != nil {
		return fmt.Errorf("supervisor: bootstrap: apps migrate: %w", err)
	}

	if err := s.boot.Bootstrap(ctx); err != nil {
		return fmt.Errorf("supervisor: bootstrap: engine: %w", err)
	}

	for _, name := range s.cfg.StartSessions {
		if _, ok := s.registry.Config(name); !ok {
			if err := s.Upsert(ctx, name, &config.SessionConfig{}); err != nil {
				return fmt.Errorf("supervisor: bootstrap: %w", err)
			}
		}

		summary, err := s.Start(ctx, name)
		if err != nil {
			s.log.Error("auto-start failed", "session", name, "error", err)
			continue
		}
		s.log.Info("session auto-started", "session", name, "status", summary.Status)
	}

	return nil
}

// Shutdown silently stops every running session, completes every
// multiplexer subscription, then releases the engine resource and the
// store. Start fails with ErrClosed afterwards. Calling Shutdown again
// returns the first result.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.closed.Store(true)
		ctx = context.WithoutCancel(ctx)

		var wg sync.WaitGroup
		for _, session := range s.registry.Running() {
			wg.Add(1)
			go func() {
				defer wg.Done()

				unlock := s.locks.Lock(session.Name())
				defer unlock()

				if current, ok := s.registry.Session(session.Name()); ok {
					_ = s.stopLocked(ctx, current, true)
				}
			}()
		}
		wg.Wait()

		s.mux.Close()
		s.hub.Close()

		s.shutdownErr = errors.Join(s.boot.Shutdown(ctx), s.store.Close())
		if s.shutdownErr != nil {
			s.shutdownErr = fmt.Errorf("supervisor: shutdown: %w", s.shutdownErr)
		}
		s.log.Info("supervisor shut down")
	})
	return s.shutdownErr
}
