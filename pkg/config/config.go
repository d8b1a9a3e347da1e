// Package config holds the daemon configuration and the per-session
// configuration model. The daemon configuration is read from YAML or TOML;
// environment variables referenced as ${VAR} are expanded before parsing.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageFile  = "file"
	StorageRedis = "redis"
)

// DefaultListen is the HTTP listen address.
const DefaultListen = ":3000"

// Default timings.
const (
	DefaultStopGrace         = 3 * time.Second
	DefaultUnpairGrace       = time.Second
	DefaultEngineInfoTimeout = time.Second
)

// Config is the top-level daemon configuration.
type Config struct {
	Engine        string            `yaml:"engine" toml:"engine"`
	DataDir       string            `yaml:"data_dir" toml:"data_dir"`
	Listen        string            `yaml:"listen" toml:"listen"`
	PrintQR       bool              `yaml:"print_qr" toml:"print_qr"`
	StartSessions []string          `yaml:"start_sessions" toml:"start_sessions"`
	Webhook       *WebhookConfig    `yaml:"webhook" toml:"webhook"`
	Proxy         GlobalProxyConfig `yaml:"proxy" toml:"proxy"`
	Storage       StorageConfig     `yaml:"storage" toml:"storage"`
	Media         MediaConfig       `yaml:"media" toml:"media"`
	Log           LogConfig         `yaml:"log" toml:"log"`
	Timeouts      TimeoutsConfig    `yaml:"timeouts" toml:"timeouts"`
	Engines       EnginesConfig     `yaml:"engines" toml:"engines"`
	API           APIConfig         `yaml:"api" toml:"api"`
}

// APIConfig protects the HTTP API. With neither Key nor JWTSecret set the
// API is open.
type APIConfig struct {
	Key       string `yaml:"key" toml:"key"`               //nolint:gosec // configuration field
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"` //nolint:gosec // configuration field
	JWTIssuer string `yaml:"jwt_issuer" toml:"jwt_issuer"`
}

// GlobalProxyConfig is the proxy pool shared by sessions that do not set
// their own proxy.
type GlobalProxyConfig struct {
	Servers  []string `yaml:"servers" toml:"servers"`
	Username string   `yaml:"username" toml:"username"`
	Password string   `yaml:"password" toml:"password"` //nolint:gosec // configuration field
}

// StorageConfig selects where session configs and auth state are kept.
type StorageConfig struct {
	Driver        string `yaml:"driver" toml:"driver"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"` //nolint:gosec // configuration field
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" toml:"redis_prefix"`
}

// MediaConfig controls per-session media storage.
type MediaConfig struct {
	Dir       string   `yaml:"dir" toml:"dir"`
	Mimetypes []string `yaml:"mimetypes" toml:"mimetypes"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TimeoutsConfig holds lifecycle delays.
type TimeoutsConfig struct {
	StopGrace   time.Duration `yaml:"stop_grace" toml:"stop_grace"`
	UnpairGrace time.Duration `yaml:"unpair_grace" toml:"unpair_grace"`
	EngineInfo  time.Duration `yaml:"engine_info" toml:"engine_info"`
}

// EnginesConfig holds engine settings. Bridge applies to every variant;
// WebJS and GoWS are handed only to their own variant.
type EnginesConfig struct {
	Bridge BridgeConfig `yaml:"bridge" toml:"bridge"`
	WebJS  WebJSConfig  `yaml:"webjs" toml:"webjs"`
	GoWS   GoWSConfig   `yaml:"gows" toml:"gows"`
}

// BridgeConfig points at the external protocol bridge the engines talk to.
type BridgeConfig struct {
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"` //nolint:gosec // configuration field
}

// WebJSConfig is engine configuration for the WEBJS variant.
type WebJSConfig struct {
	WebVersion      string `yaml:"web_version" toml:"web_version"`
	CacheType       string `yaml:"cache_type" toml:"cache_type"`
	TagsEventsOn    bool   `yaml:"tags_events_on" toml:"tags_events_on"`
	BrowserPath     string `yaml:"browser_path" toml:"browser_path"`
	DisableHeadless bool   `yaml:"disable_headless" toml:"disable_headless"`
}

// GoWSConfig is engine configuration for the GOWS variant.
type GoWSConfig struct {
	Socket string `yaml:"socket" toml:"socket"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Engine == "" {
		c.Engine = "WEBJS"
	}
	c.Engine = strings.ToUpper(c.Engine)
	if c.DataDir == "" {
		c.DataDir = ".sessions"
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = "sessiond"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Timeouts.StopGrace == 0 {
		c.Timeouts.StopGrace = DefaultStopGrace
	}
	if c.Timeouts.UnpairGrace == 0 {
		c.Timeouts.UnpairGrace = DefaultUnpairGrace
	}
	if c.Timeouts.EngineInfo == 0 {
		c.Timeouts.EngineInfo = DefaultEngineInfoTimeout
	}
}

// Load reads a configuration file. Files ending in .toml are parsed as TOML,
// anything else as YAML. Defaults are applied to unset fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	cfg.applyDefaults()

	return cfg, nil
}

// Validate checks that the configuration is internally consistent. The
// engine name itself is resolved by the engine package.
func (c Config) Validate() error {
	if c.Engine == "" {
		return fmt.Errorf("config: engine is required")
	}

	seen := make(map[string]struct{}, len(c.StartSessions))
	for _, name := range c.StartSessions {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: start_sessions: empty session name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: start_sessions: duplicate session %q", name)
		}
		seen[name] = struct{}{}
	}

	if c.Webhook != nil && c.Webhook.URL != "" {
		if err := ValidateWebhook(*c.Webhook); err != nil {
			return fmt.Errorf("config: webhook: %w", err)
		}
	}

	for _, s := range c.Proxy.Servers {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("config: proxy: empty server entry")
		}
	}

	switch c.Storage.Driver {
	case StorageFile:
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("config: storage: redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config: storage: unknown driver %q", c.Storage.Driver)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log: unknown format %q", c.Log.Format)
	}

	if c.Timeouts.StopGrace < 0 || c.Timeouts.UnpairGrace < 0 || c.Timeouts.EngineInfo < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}

	return nil
}

// ValidateWebhook checks that w has an absolute http(s) URL and valid event
// kinds.
func ValidateWebhook(w WebhookConfig) error {
	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", w.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", w.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", w.URL)
	}
	for _, k := range w.Events {
		if k != "*" && !k.Valid() {
			return fmt.Errorf("unknown event %q", k)
		}
	}
	return nil
}
