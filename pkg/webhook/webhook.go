// Package webhook delivers session events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/logging"
)

// AllEvents subscribes a webhook to every event kind.
const AllEvents event.Kind = "*"

// Header names set on every delivery.
const (
	HeaderRequestID     = "X-Webhook-Request-Id"
	HeaderTimestamp     = "X-Webhook-Timestamp"
	HeaderHMAC          = "X-Webhook-Hmac"
	HeaderHMACAlgorithm = "X-Webhook-Hmac-Algorithm"
)

// DefaultTimeout bounds one delivery attempt.
const DefaultTimeout = 10 * time.Second

// Conductor wires a session's events to its webhooks.
type Conductor interface {
	Configure(session engine.Session, hooks []config.WebhookConfig)
}

// Nop ignores every webhook.
type Nop struct{}

func (Nop) Configure(engine.Session, []config.WebhookConfig) {}

// Options configures an HTTPConductor.
type Options struct {
	Client  *http.Client
	Timeout time.Duration
	Logger  *slog.Logger
}

// HTTPConductor POSTs every event as JSON. Deliveries are attempted once;
// failures are logged.
type HTTPConductor struct {
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Conductor = (*HTTPConductor)(nil)

// NewHTTPConductor creates a conductor. Close stops all forwarding.
func NewHTTPConductor(opts Options) *HTTPConductor {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPConductor{
		client:  client,
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Configure starts forwarding the session's events for every hook. The
// session's sources are subscribed before Configure returns. Forwarding ends
// when the session's event sources finish or the conductor is closed.
func (c *HTTPConductor) Configure(session engine.Session, hooks []config.WebhookConfig) {
	for _, hook := range hooks {
		for _, kind := range Kinds(hook.Events) {
			src := session.Events(kind)
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.forward(session, hook, kind, src)
			}()
		}
	}
}

func (c *HTTPConductor) forward(session engine.Session, hook config.WebhookConfig, kind event.Kind, src event.Source) {
	err := src(c.ctx, func(e event.Event) {
		if e.Me == nil {
			e.Me = session.Me()
		}
		if err := c.Deliver(c.ctx, hook, e); err != nil {
			c.log.Warn("webhook delivery failed",
				"session", session.Name(), "url", hook.URL, "event", e.Kind, "error", err)
		}
	})
	if err != nil {
		c.log.Warn("webhook source failed", "session", session.Name(), "event", kind, "error", err)
	}
}

// Deliver sends one event to hook.
func (c *HTTPConductor) Deliver(ctx context.Context, hook config.WebhookConfig, e event.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, e.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	if hook.HMAC != nil && hook.HMAC.Key != "" {
		req.Header.Set(HeaderHMAC, Sign(hook.HMAC.Key, body))
		req.Header.Set(HeaderHMACAlgorithm, "sha512")
	}
	for _, h := range hook.CustomHeaders {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := c.client.Do(req) //nolint:gosec // URL comes from validated webhook config
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", hook.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close stops forwarding and waits for in-flight deliveries.
func (c *HTTPConductor) Close() {
	c.cancel()
	c.wg.Wait()
}

// Sign returns the hex HMAC-SHA512 of body under key.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Kinds expands a webhook's event list. AllEvents selects every kind;
// duplicates are removed.
func Kinds(events []event.Kind) []event.Kind {
	if slices.Contains(events, AllEvents) {
		return slices.Clone(event.Kinds)
	}
	out := slices.Clone(events)
	slices.Sort(out)
	return slices.Compact(out)
}
