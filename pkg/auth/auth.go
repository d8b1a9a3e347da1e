// Package auth manages the persisted pairing state of sessions. The
// supervisor prepares it before a session starts and wipes it on logout and
// delete.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidName is returned for session names that cannot be used as an
// auth key.
var ErrInvalidName = errors.New("auth: invalid session name")

// Repository stores the auth state of sessions.
type Repository interface {
	// Init prepares storage for name. It is idempotent.
	Init(ctx context.Context, name string) error
	// Clean removes all auth state for name. Cleaning missing state is not
	// an error.
	Clean(ctx context.Context, name string) error
}

// reservedChars are path separators, the Redis key separator and SCAN glob
// metacharacters. A name holding any of them could address another
// session's state.
const reservedChars = `/\:*?[]`

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, reservedChars) {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}

// Local keeps auth state in one directory per session under Root.
type Local struct {
	Root string
}

var _ Repository = Local{}

// Dir returns the auth directory of name.
func (l Local) Dir(name string) string { return filepath.Join(l.Root, name) }

func (l Local) Init(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(l.Dir(name), 0o700); err != nil {
		return fmt.Errorf("auth: init %s: %w", name, err)
	}
	return nil
}

func (l Local) Clean(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(l.Dir(name)); err != nil {
		return fmt.Errorf("auth: clean %s: %w", name, err)
	}
	return nil
}

// Redis keeps auth state under keys prefixed with <prefix>:auth:<name>.
// Engines write their own keys; the repository only marks and wipes them.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Repository = (*Redis)(nil)

// NewRedis creates a Redis repository on client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "sessiond"
	}
	return &Redis{client: client, prefix: prefix}
}

// Key returns the key namespace of name.
func (r *Redis) Key(name string) string { return r.prefix + ":auth:" + name }

// Init writes the session's marker key.
func (r *Redis) Init(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := r.client.SetNX(ctx, r.Key(name), "1", 0).Err(); err != nil {
		return fmt.Errorf("auth: init %s: %w", name, err)
	}
	return nil
}

// Clean deletes the marker and every key below it.
func (r *Redis) Clean(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	keys := []string{r.Key(name)}
	iter := r.client.Scan(ctx, 0, r.Key(name)+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("auth: clean %s: %w", name, err)
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("auth: clean %s: %w", name, err)
	}
	return nil
}
