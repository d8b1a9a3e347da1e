package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/sessiond/pkg/config"
)

// File is a Store backed by a single YAML document mapping session names to
// their configuration. Writes replace the file atomically.
type File struct {
	path string

	mu   sync.Mutex
	data map[string]config.SessionConfig
}

var _ Store = (*File)(nil)

// NewFile creates a File store at path. Nothing is read until Init.
func NewFile(path string) *File {
	return &File{path: path}
}

// Init reads the existing document, if any.
func (f *File) Init(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data = make(map[string]config.SessionConfig)

	raw, err := os.ReadFile(f.path) //nolint:gosec // path comes from the data dir
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", f.path, err)
	}

	if err := yaml.Unmarshal(raw, &f.data); err != nil {
		return fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	if f.data == nil {
		f.data = make(map[string]config.SessionConfig)
	}

	return nil
}

func (f *File) Load(_ context.Context) (map[string]config.SessionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]config.SessionConfig, len(f.data))
	for k, v := range f.data {
		out[k] = v.Clone()
	}
	return out, nil
}

func (f *File) Save(_ context.Context, name string, cfg config.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data == nil {
		f.data = make(map[string]config.SessionConfig)
	}
	f.data[name] = cfg.Clone()

	return f.flushLocked()
}

func (f *File) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.data[name]; !ok {
		return nil
	}
	delete(f.data, name)

	return f.flushLocked()
}

func (f *File) Close() error { return nil }

// flushLocked writes the document to a temp file and renames it into place.
// Must be called with mu held.
func (f *File) flushLocked() error {
	out, err := yaml.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}

	return nil
}

func sortedKeys(m map[string]config.SessionConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
