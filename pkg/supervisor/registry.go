package supervisor

import (
	"slices"
	"sort"
	"sync"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/engine"
)

// Registry holds the running sessions and the configuration of every known
// session name. A name may be configured without running (a ghost); a
// running name always has a configuration.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]engine.Session
	configs  map[string]config.SessionConfig
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]engine.Session),
		configs:  make(map[string]config.SessionConfig),
	}
}

// Exists reports whether name is running. Configured-only names do not
// exist.
func (r *Registry) Exists(name string) bool {
	return r.IsRunning(name)
}

// IsRunning reports whether a session is registered under name.
func (r *Registry) IsRunning(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[name]
	return ok
}

// Upsert sets the configuration of name. It never starts anything.
func (r *Registry) Upsert(name string, cfg config.SessionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg.Clone()
}

// Delete forgets name entirely. Deleting an unknown name is a no-op.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
	delete(r.configs, name)
}

// Config returns a copy of the configuration of name.
func (r *Registry) Config(name string) (config.SessionConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	if !ok {
		return config.SessionConfig{}, false
	}
	return cfg.Clone(), true
}

// Session returns the running session called name.
func (r *Registry) Session(name string) (engine.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Register adds a running session. A name without a configuration gets an
// empty one.
func (r *Registry) Register(s engine.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Name()] = s
	if _, ok := r.configs[s.Name()]; !ok {
		r.configs[s.Name()] = config.SessionConfig{}
	}
}

// Remove unregisters the running session called name, keeping its
// configuration.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// Running returns the running sessions ordered by name.
func (r *Registry) Running() []engine.Session {
	r.mu.RLock()
	out := make([]engine.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RunningNames returns the names of the running sessions, sorted.
func (r *Registry) RunningNames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out
}

// Configured returns every configured name, sorted.
func (r *Registry) Configured() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.configs))
	for name := range r.configs {
		out = append(out, name)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out
}
