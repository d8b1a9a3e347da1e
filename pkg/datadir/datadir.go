// Package datadir encapsulates all path knowledge for the daemon's data
// directory. It provides a Dir value object with accessors for the session
// store, auth state and media paths.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a value object that resolves paths within the data directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at the given path. The path is converted to an
// absolute path. No I/O is performed; use EnsureStructure to create the
// directory layout.
func New(root string) Dir {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	return Dir{root: abs}
}

// Root returns the absolute path to the data directory.
func (d Dir) Root() string { return d.root }

// SessionsPath returns the path to the session config store file.
func (d Dir) SessionsPath() string { return filepath.Join(d.root, "sessions.yaml") }

// AuthDir returns the directory holding per-session auth state.
func (d Dir) AuthDir() string { return filepath.Join(d.root, "auth") }

// SessionAuthDir returns the auth state directory of one session.
func (d Dir) SessionAuthDir(name string) string { return filepath.Join(d.AuthDir(), name) }

// MediaDir returns the root of per-session media storage.
func (d Dir) MediaDir() string { return filepath.Join(d.root, "media") }

// Exists reports whether the data directory exists on disk.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.root)

	return err == nil && info.IsDir()
}

// EnsureStructure creates the data directory with its auth/ and media/
// subdirectories. It is safe to call multiple times.
func EnsureStructure(d Dir) error {
	for _, dir := range []string{d.AuthDir(), d.MediaDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("datadir: create %s: %w", dir, err)
		}
	}

	return nil
}
