// Package store persists per-session configuration so that configured but
// stopped ("ghost") sessions survive daemon restarts. Memory, YAML file and
// Redis backends are provided.
package store

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/germanamz/sessiond/pkg/config"
)

// Store persists session configurations keyed by session name.
type Store interface {
	Init(ctx context.Context) error
	Load(ctx context.Context) (map[string]config.SessionConfig, error)
	Save(ctx context.Context, name string, cfg config.SessionConfig) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Memory is a volatile Store. The zero value is ready to use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]config.SessionConfig
}

var _ Store = (*Memory)(nil)

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) Load(context.Context) (map[string]config.SessionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]config.SessionConfig, len(m.data))
	for k, v := range m.data {
		out[k] = v.Clone()
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, name string, cfg config.SessionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		m.data = make(map[string]config.SessionConfig)
	}
	m.data[name] = cfg.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, name)
	return nil
}

func (m *Memory) Close() error { return nil }

// Names returns the stored session names.
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return sortedKeys(maps.Clone(m.data))
}

// Open returns the Store selected by cfg. filePath is used by the file
// driver.
func Open(cfg config.StorageConfig, filePath string) (Store, error) {
	switch cfg.Driver {
	case config.StorageFile, "":
		return NewFile(filePath), nil
	case config.StorageRedis:
		return DialRedis(cfg), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
