package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/germanamz/sessiond/pkg/auth"
	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/datadir"
	"github.com/germanamz/sessiond/pkg/store"
)

const defaultConfigFile = "sessiond.yaml"

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// resolveConfigPath picks the configuration file: the explicit flag, then
// <data-dir>/config.yaml, then sessiond.yaml. It returns "" when none exists.
func resolveConfigPath(explicit, dataDir string) string {
	if explicit != "" {
		return explicit
	}

	if dataDir != "" {
		candidate := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}

	return ""
}

// openStorage opens the session config store and the matching auth
// repository. With the redis driver both share one client.
func openStorage(cfg config.Config, dd datadir.Dir) (store.Store, auth.Repository, error) {
	st, err := store.Open(cfg.Storage, dd.SessionsPath())
	if err != nil {
		return nil, nil, err
	}

	if rs, ok := st.(*store.Redis); ok {
		return st, auth.NewRedis(rs.Client(), cfg.Storage.RedisPrefix), nil
	}
	return st, auth.Local{Root: dd.AuthDir()}, nil
}
