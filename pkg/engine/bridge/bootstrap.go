package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/germanamz/sessiond/pkg/bootstrap"
	"github.com/germanamz/sessiond/pkg/config"
)

// Bootstrap checks that the bridge is reachable before any session starts.
type Bootstrap struct {
	cfg    config.BridgeConfig
	client *http.Client
}

var _ bootstrap.Bootstrap = (*Bootstrap)(nil)

// NewBootstrap creates a Bootstrap for cfg. A nil client uses
// http.DefaultClient.
func NewBootstrap(cfg config.BridgeConfig, client *http.Client) *Bootstrap {
	if client == nil {
		client = http.DefaultClient
	}
	return &Bootstrap{cfg: cfg, client: client}
}

// Bootstrap calls GET <url>/health and expects a 2xx answer.
func (b *Bootstrap) Bootstrap(ctx context.Context) error {
	url := strings.TrimSuffix(b.cfg.URL, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("bridge: build health request: %w", err)
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.client.Do(req) //nolint:gosec // URL comes from configuration
	if err != nil {
		return fmt.Errorf("bridge: health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge: health check: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Shutdown has nothing to release; sessions own their connections.
func (b *Bootstrap) Shutdown(context.Context) error { return nil }
