// Package media provides per-session media storage. The supervisor builds and
// initializes one Storage per session at start; engines save downloaded media
// through it.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrMimetypeNotAllowed is returned when saving media whose mimetype is not
// in the configured allow list.
var ErrMimetypeNotAllowed = errors.New("media: mimetype not allowed")

// Storage stores media for one session.
type Storage interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, name, mimetype string, r io.Reader) (string, error)
}

// Factory builds the Storage for a session.
type Factory interface {
	Build(ctx context.Context, session string, log *slog.Logger) (Storage, error)
}

// LocalFactory builds LocalStorage rooted at Root/<session>.
type LocalFactory struct {
	Root      string
	Mimetypes []string
}

// Build returns the storage for session. No I/O is performed until Init.
func (f LocalFactory) Build(_ context.Context, session string, log *slog.Logger) (Storage, error) {
	if session == "" || strings.ContainsAny(session, `/\`) || session == "." || session == ".." {
		return nil, fmt.Errorf("media: invalid session name %q", session)
	}
	return &LocalStorage{
		dir:       filepath.Join(f.Root, session),
		mimetypes: f.Mimetypes,
		log:       log,
	}, nil
}

// LocalStorage keeps media files in a directory on disk.
type LocalStorage struct {
	dir       string
	mimetypes []string
	log       *slog.Logger
}

// Dir returns the storage directory.
func (s *LocalStorage) Dir() string { return s.dir }

// Init creates the storage directory.
func (s *LocalStorage) Init(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("media: init %s: %w", s.dir, err)
	}
	return nil
}

// Allowed reports whether mimetype passes the allow list. An empty list
// allows everything; entries ending in "/*" match a whole type.
func (s *LocalStorage) Allowed(mimetype string) bool {
	if len(s.mimetypes) == 0 {
		return true
	}
	if slices.Contains(s.mimetypes, mimetype) {
		return true
	}
	for _, m := range s.mimetypes {
		if prefix, ok := strings.CutSuffix(m, "/*"); ok && strings.HasPrefix(mimetype, prefix+"/") {
			return true
		}
	}
	return false
}

// Save writes r to a file called name and returns its path.
func (s *LocalStorage) Save(_ context.Context, name, mimetype string, r io.Reader) (string, error) {
	if !s.Allowed(mimetype) {
		return "", fmt.Errorf("%w: %s", ErrMimetypeNotAllowed, mimetype)
	}

	path := filepath.Join(s.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path is confined to the storage dir
	if err != nil {
		return "", fmt.Errorf("media: save: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("media: save: %w", err)
	}

	if s.log != nil {
		s.log.Debug("media saved", "path", path, "mimetype", mimetype)
	}

	return path, nil
}
