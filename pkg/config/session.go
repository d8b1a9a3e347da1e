package config

import (
	"maps"
	"slices"

	"github.com/germanamz/sessiond/pkg/event"
)

// SessionConfig is the persisted, per-session configuration. It survives
// session stop and is removed only by delete.
type SessionConfig struct {
	Webhooks []WebhookConfig   `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
	Proxy    *ProxyConfig      `yaml:"proxy,omitempty" json:"proxy,omitempty"`
	Debug    bool              `yaml:"debug,omitempty" json:"debug,omitempty"`
	Ignore   IgnoreConfig      `yaml:"ignore,omitempty" json:"ignore,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IgnoreConfig tells the engine which chats to drop events for.
type IgnoreConfig struct {
	Status   bool `yaml:"status,omitempty" json:"status,omitempty" toml:"status"`
	Groups   bool `yaml:"groups,omitempty" json:"groups,omitempty" toml:"groups"`
	Channels bool `yaml:"channels,omitempty" json:"channels,omitempty" toml:"channels"`
}

// WebhookConfig describes one webhook target.
type WebhookConfig struct {
	URL           string         `yaml:"url" json:"url" toml:"url"`
	Events        []event.Kind   `yaml:"events,omitempty" json:"events,omitempty" toml:"events"`
	HMAC          *HMACConfig    `yaml:"hmac,omitempty" json:"hmac,omitempty" toml:"hmac"`
	CustomHeaders []CustomHeader `yaml:"custom_headers,omitempty" json:"customHeaders,omitempty" toml:"custom_headers"`
}

// HMACConfig enables payload signing for a webhook.
type HMACConfig struct {
	Key string `yaml:"key" json:"key" toml:"key"` //nolint:gosec // configuration field, not a hardcoded secret
}

// CustomHeader is an extra HTTP header sent with every webhook request.
type CustomHeader struct {
	Name  string `yaml:"name" json:"name" toml:"name"`
	Value string `yaml:"value" json:"value" toml:"value"`
}

// ProxyConfig is the proxy a session's engine connects through.
type ProxyConfig struct {
	Server   string `yaml:"server" json:"server"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"` //nolint:gosec // configuration field
}

// Clone returns a deep copy of c. A nil receiver yields an empty config.
func (c *SessionConfig) Clone() SessionConfig {
	if c == nil {
		return SessionConfig{}
	}

	cp := SessionConfig{
		Debug:    c.Debug,
		Ignore:   c.Ignore,
		Metadata: maps.Clone(c.Metadata),
	}
	if c.Proxy != nil {
		p := *c.Proxy
		cp.Proxy = &p
	}
	if c.Webhooks != nil {
		cp.Webhooks = make([]WebhookConfig, len(c.Webhooks))
		for i, w := range c.Webhooks {
			cp.Webhooks[i] = w.clone()
		}
	}

	return cp
}

func (w WebhookConfig) clone() WebhookConfig {
	cp := WebhookConfig{
		URL:           w.URL,
		Events:        slices.Clone(w.Events),
		CustomHeaders: slices.Clone(w.CustomHeaders),
	}
	if w.HMAC != nil {
		h := *w.HMAC
		cp.HMAC = &h
	}
	return cp
}

// MergeWebhooks returns the session's webhooks followed by the global one,
// if any. Order is delivery order; duplicates are kept.
func MergeWebhooks(session *SessionConfig, global *WebhookConfig) []WebhookConfig {
	var hooks []WebhookConfig
	if session != nil {
		for _, w := range session.Webhooks {
			hooks = append(hooks, w.clone())
		}
	}
	if global != nil && global.URL != "" {
		hooks = append(hooks, global.clone())
	}
	return hooks
}
