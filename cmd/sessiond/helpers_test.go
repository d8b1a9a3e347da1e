package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/sessiond/pkg/auth"
	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/datadir"
	"github.com/germanamz/sessiond/pkg/store"
)

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SESSIOND_TEST_VAR=hello\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SESSIOND_TEST_VAR") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "hello", os.Getenv("SESSIOND_TEST_VAR"))
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "explicit.yaml", resolveConfigPath("explicit.yaml", "ignored"))

	dir := t.TempDir()
	t.Chdir(t.TempDir())
	assert.Empty(t, resolveConfigPath("", dir))

	require.NoError(t, os.WriteFile(defaultConfigFile, []byte("engine: NOWEB\n"), 0o600))
	assert.Equal(t, defaultConfigFile, resolveConfigPath("", dir))

	inDir := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(inDir, []byte("engine: NOWEB\n"), 0o600))
	assert.Equal(t, inDir, resolveConfigPath("", dir))
}

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: gows\nlisten: \":8080\"\n"), 0o600))

	dataDir := t.TempDir()
	cfg, err = loadConfig(path, dataDir)
	require.NoError(t, err)
	assert.Equal(t, "GOWS", cfg.Engine)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, dataDir, cfg.DataDir)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func TestOpenStorage_File(t *testing.T) {
	dd := datadir.New(t.TempDir())

	st, repo, err := openStorage(config.Default(), dd)
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &store.File{}, st)
	assert.Equal(t, auth.Local{Root: dd.AuthDir()}, repo)
}

func TestOpenStorage_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Storage.Driver = config.StorageRedis
	cfg.Storage.RedisAddr = mr.Addr()

	st, repo, err := openStorage(cfg, datadir.New(t.TempDir()))
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &store.Redis{}, st)
	require.IsType(t, &auth.Redis{}, repo)

	ctx := context.Background()
	require.NoError(t, repo.Init(ctx, "default"))
	assert.True(t, mr.Exists("sessiond:auth:default"))
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "etcd"

	_, _, err := openStorage(cfg, datadir.New(t.TempDir()))
	assert.Error(t, err)
}
