package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_InitClean(t *testing.T) {
	ctx := context.Background()
	l := Local{Root: t.TempDir()}

	require.NoError(t, l.Init(ctx, "default"))
	require.NoError(t, l.Init(ctx, "default"))
	require.NoError(t, os.WriteFile(filepath.Join(l.Dir("default"), "creds.json"), []byte("{}"), 0o600))

	require.NoError(t, l.Clean(ctx, "default"))
	_, err := os.Stat(l.Dir("default"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, l.Clean(ctx, "default"))
}

func TestLocal_RejectsPathNames(t *testing.T) {
	ctx := context.Background()
	l := Local{Root: t.TempDir()}

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "a:b", "a*", "a?", "[ab]"} {
		assert.ErrorIs(t, l.Init(ctx, name), ErrInvalidName, name)
		assert.ErrorIs(t, l.Clean(ctx, name), ErrInvalidName, name)
	}
}

func TestRedis_InitClean(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	r := NewRedis(rdb, "t")
	require.NoError(t, r.Init(ctx, "default"))
	require.NoError(t, r.Init(ctx, "other"))
	assert.True(t, mr.Exists("t:auth:default"))

	require.NoError(t, mr.Set("t:auth:default:creds", "x"))
	require.NoError(t, mr.Set("t:auth:default:keys:1", "y"))
	require.NoError(t, mr.Set("t:auth:defaultish", "keep"))

	require.NoError(t, r.Clean(ctx, "default"))

	assert.False(t, mr.Exists("t:auth:default"))
	assert.False(t, mr.Exists("t:auth:default:creds"))
	assert.False(t, mr.Exists("t:auth:default:keys:1"))
	assert.True(t, mr.Exists("t:auth:defaultish"))
	assert.True(t, mr.Exists("t:auth:other"))

	assert.NoError(t, r.Clean(ctx, "default"))
}

func TestRedis_RejectsKeyPatternNames(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	r := NewRedis(rdb, "t")
	for _, name := range []string{"a:b", "a*", "a?", "a[b]", `a\b`} {
		assert.ErrorIs(t, r.Init(ctx, name), ErrInvalidName, name)
		assert.ErrorIs(t, r.Clean(ctx, name), ErrInvalidName, name)
	}
}

func TestRedis_CleanKeepsPrefixSharingSessions(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	r := NewRedis(rdb, "t")
	for _, name := range []string{"a", "ab", "abc"} {
		require.NoError(t, r.Init(ctx, name))
		require.NoError(t, mr.Set(r.Key(name)+":creds", name))
	}

	require.NoError(t, r.Clean(ctx, "a"))

	assert.False(t, mr.Exists("t:auth:a"))
	assert.False(t, mr.Exists("t:auth:a:creds"))
	for _, name := range []string{"ab", "abc"} {
		assert.True(t, mr.Exists(r.Key(name)), name)
		assert.True(t, mr.Exists(r.Key(name)+":creds"), name)
	}
}
