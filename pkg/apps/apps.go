// Package apps defines the hooks through which session-bound applications
// take part in the session lifecycle.
package apps

import (
	"context"

	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/store"
)

// Apps is notified around session starts and deletes.
type Apps interface {
	// BeforeSessionStart runs after the session is registered and before the
	// engine starts. An error marks the session FAILED.
	BeforeSessionStart(ctx context.Context, session engine.Session, st store.Store) error
	// AfterSessionStart runs once the engine has started.
	AfterSessionStart(ctx context.Context, session engine.Session, st store.Store) error
	// RemoveBySession drops every app bound to the session.
	RemoveBySession(ctx context.Context, name string) error
	// Migrate upgrades persisted app state. It runs once at bootstrap.
	Migrate(ctx context.Context, st store.Store) error
}

// Nop is an Apps that does nothing.
type Nop struct{}

var _ Apps = Nop{}

func (Nop) BeforeSessionStart(context.Context, engine.Session, store.Store) error { return nil }
func (Nop) AfterSessionStart(context.Context, engine.Session, store.Store) error  { return nil }
func (Nop) RemoveBySession(context.Context, string) error                         { return nil }
func (Nop) Migrate(context.Context, store.Store) error                            { return nil }

// Chain runs several Apps in order. Each hook stops at the first error.
type Chain []Apps

var _ Apps = Chain(nil)

func (c Chain) BeforeSessionStart(ctx context.Context, session engine.Session, st store.Store) error {
	for _, a := range c {
		if err := a.BeforeSessionStart(ctx, session, st); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) AfterSessionStart(ctx context.Context, session engine.Session, st store.Store) error {
	for _, a := range c {
		if err := a.AfterSessionStart(ctx, session, st); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) RemoveBySession(ctx context.Context, name string) error {
	for _, a := range c {
		if err := a.RemoveBySession(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) Migrate(ctx context.Context, st store.Store) error {
	for _, a := range c {
		if err := a.Migrate(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Funcs adapts optional functions to Apps. Nil fields are no-ops.
type Funcs struct {
	OnBefore  func(ctx context.Context, session engine.Session, st store.Store) error
	OnAfter   func(ctx context.Context, session engine.Session, st store.Store) error
	OnRemove  func(ctx context.Context, name string) error
	OnMigrate func(ctx context.Context, st store.Store) error
}

var _ Apps = (*Funcs)(nil)

func (f *Funcs) BeforeSessionStart(ctx context.Context, session engine.Session, st store.Store) error {
	if f.OnBefore == nil {
		return nil
	}
	return f.OnBefore(ctx, session, st)
}

func (f *Funcs) AfterSessionStart(ctx context.Context, session engine.Session, st store.Store) error {
	if f.OnAfter == nil {
		return nil
	}
	return f.OnAfter(ctx, session, st)
}

func (f *Funcs) RemoveBySession(ctx context.Context, name string) error {
	if f.OnRemove == nil {
		return nil
	}
	return f.OnRemove(ctx, name)
}

func (f *Funcs) Migrate(ctx context.Context, st store.Store) error {
	if f.OnMigrate == nil {
		return nil
	}
	return f.OnMigrate(ctx, st)
}
