// Package proxy decides which proxy a session's engine connects through.
package proxy

import (
	"slices"

	"github.com/germanamz/sessiond/pkg/config"
)

// Resolver computes the global proxy for name from the shared pool and the
// names of the currently running sessions. It returns nil when no global
// proxy applies.
type Resolver func(global config.GlobalProxyConfig, running []string, name string) *config.ProxyConfig

// RoundRobin spreads sessions over the pool: name takes the server at its
// index in the sorted set of running names plus itself, modulo pool size.
func RoundRobin(global config.GlobalProxyConfig, running []string, name string) *config.ProxyConfig {
	if len(global.Servers) == 0 {
		return nil
	}

	names := slices.Clone(running)
	if !slices.Contains(names, name) {
		names = append(names, name)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	i := slices.Index(names, name)
	return &config.ProxyConfig{
		Server:   global.Servers[i%len(global.Servers)],
		Username: global.Username,
		Password: global.Password,
	}
}

// Resolve returns a copy of the session's own proxy when set, otherwise what
// r computes. A nil r means there is no global proxy.
func Resolve(r Resolver, session *config.ProxyConfig, global config.GlobalProxyConfig, running []string, name string) *config.ProxyConfig {
	if session != nil && session.Server != "" {
		cp := *session
		return &cp
	}
	if r == nil {
		return nil
	}
	return r(global, running, name)
}
