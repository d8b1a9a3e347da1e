// Package bootstrap defines the process-wide engine resource that is brought
// up once before any session starts and torn down after every session stops.
package bootstrap

import "context"

// Bootstrap prepares and releases shared engine resources.
type Bootstrap interface {
	Bootstrap(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Nop is a Bootstrap with nothing to prepare.
type Nop struct{}

var _ Bootstrap = Nop{}

func (Nop) Bootstrap(context.Context) error { return nil }
func (Nop) Shutdown(context.Context) error  { return nil }
