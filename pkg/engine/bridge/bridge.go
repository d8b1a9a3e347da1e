// Package bridge implements sessions whose protocol engine runs in an
// external bridge process. Each session holds one WebSocket connection to
// <url>/sessions/<name>; commands go out as JSON frames and the bridge
// answers with results, status changes and events.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/event"
)

// ErrNotConnected is returned by commands issued before Start or after Stop.
var ErrNotConnected = errors.New("bridge: not connected")

// CommandError is a command the bridge received and rejected.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bridge: %s: %s", e.Command, e.Message)
}

const (
	readLimit      = 16 << 20
	commandTimeout = 30 * time.Second
)

// Frame types exchanged with the bridge.
const (
	FrameCommand  = "command"
	FrameResult   = "result"
	FrameEvent    = "event"
	FrameStatus   = "status"
	FrameMe       = "me"
	FramePresence = "presence"
	FrameQR       = "qr"
	FrameMedia    = "media"
)

// Frame is the JSON envelope of every WebSocket message.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// command
	Command string          `json:"command,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`

	// result
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`

	// event
	Event   event.Kind      `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Status   engine.Status   `json:"status,omitempty"`
	Me       *event.Me       `json:"me,omitempty"`
	Presence engine.Presence `json:"presence,omitempty"`
	QR       string          `json:"qr,omitempty"`

	// media
	Filename string `json:"filename,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Content  []byte `json:"content,omitempty"`
}

// StartParams is sent with the start command.
type StartParams struct {
	Engine  engine.Variant      `json:"engine"`
	Proxy   *config.ProxyConfig `json:"proxy,omitempty"`
	PrintQR bool                `json:"printQR,omitempty"`
	Config  any                 `json:"config,omitempty"`
}

// Session is a bridge-backed engine.Session.
type Session struct {
	*engine.Base

	endpoint string
	header   http.Header
	params   engine.Params

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[string]chan Frame
}

var (
	_ engine.Session = (*Session)(nil)
	_ io.Closer      = (*Session)(nil)
)

// New returns a Constructor building bridge sessions against cfg.
func New(cfg config.BridgeConfig) engine.Constructor {
	return func(p engine.Params) (engine.Session, error) {
		if cfg.URL == "" {
			return nil, errors.New("bridge: url is required")
		}
		endpoint, err := sessionURL(cfg.URL, p.Name)
		if err != nil {
			return nil, err
		}

		header := make(http.Header)
		if cfg.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Token)
		}

		return &Session{
			Base:     engine.NewBase(p),
			endpoint: endpoint,
			header:   header,
			params:   p,
			pending:  make(map[string]chan Frame),
		}, nil
	}
}

// sessionURL converts base to a WebSocket URL for name: https becomes wss,
// http becomes ws.
func sessionURL(base, name string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("bridge: invalid url %q: %w", base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bridge: unsupported url scheme %q", u.Scheme)
	}
	return u.JoinPath("sessions", name).String(), nil
}

// Start connects to the bridge and asks it to start the session.
func (s *Session) Start(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.endpoint, &websocket.DialOptions{HTTPHeader: s.header}) //nolint:bodyclose // closed by the library on success
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", s.endpoint, err)
	}
	conn.SetReadLimit(readLimit)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn, done)

	params, err := json.Marshal(StartParams{
		Engine:  s.Variant(),
		Proxy:   s.params.Proxy,
		PrintQR: s.params.PrintQR,
		Config:  s.params.EngineConfig,
	})
	if err != nil {
		return fmt.Errorf("bridge: encode start params: %w", err)
	}

	if _, err := s.command(ctx, "start", params); err != nil {
		return err
	}
	return nil
}

// Stop asks the bridge to stop the session, then closes the connection and
// finishes the session's event sources. When the bridge rejects the stop
// the session stays connected and the *CommandError is returned.
func (s *Session) Stop(ctx context.Context) error {
	_, cmdErr := s.command(ctx, "stop", nil)

	var rejected *CommandError
	if errors.As(cmdErr, &rejected) {
		return cmdErr
	}

	s.Close()

	if cmdErr != nil && !errors.Is(cmdErr, ErrNotConnected) {
		return cmdErr
	}
	return nil
}

// Close drops the bridge connection without asking the bridge to stop and
// finishes the session's event sources. It is safe to call more than once.
func (s *Session) Close() error {
	defer s.CloseEvents()

	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "session stopped")
	<-done
	return nil
}

// Unpair asks the bridge to unlink the account.
func (s *Session) Unpair(ctx context.Context) error {
	_, err := s.command(ctx, "unpair", nil)
	return err
}

// EngineInfo asks the bridge for diagnostics.
func (s *Session) EngineInfo(ctx context.Context) (map[string]any, error) {
	return s.command(ctx, "info", nil)
}

// command sends a command frame and waits for its result. Commands without
// a deadline give up after commandTimeout.
func (s *Session) command(ctx context.Context, name string, params json.RawMessage) (map[string]any, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, commandTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	reply := make(chan Frame, 1)

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.pending[id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, conn, Frame{Type: FrameCommand, ID: id, Command: name, Params: params}); err != nil {
		return nil, fmt.Errorf("bridge: send %s: %w", name, err)
	}

	select {
	case res, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("bridge: %s: connection closed", name)
		}
		if res.Error != "" {
			return nil, &CommandError{Command: name, Message: res.Error}
		}
		return res.Data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("bridge: %s: %w", name, ctx.Err())
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer s.failPending()

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.Logger().Warn("bridge connection lost", "error", err)
				s.SetStatus(engine.StatusFailed)
			}
			return
		}
		s.handle(ctx, f)
	}
}

func (s *Session) handle(ctx context.Context, f Frame) {
	switch f.Type {
	case FrameResult:
		s.mu.Lock()
		reply, ok := s.pending[f.ID]
		s.mu.Unlock()
		if ok {
			reply <- f
		}
	case FrameStatus:
		s.SetStatus(f.Status)
	case FrameMe:
		s.SetMe(f.Me)
	case FramePresence:
		s.SetPresence(f.Presence)
	case FrameQR:
		if s.params.PrintQR {
			s.Logger().Info("scan the QR code to pair the session", "qr", f.QR)
		}
	case FrameMedia:
		s.saveMedia(ctx, f)
	case FrameEvent:
		var payload any
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &payload); err != nil {
				s.Logger().Warn("bridge sent malformed payload", "event", f.Event, "error", err)
				return
			}
		}
		if Ignored(s.params.Ignore, payload) {
			return
		}
		s.Emit(f.Event, payload)
	default:
		s.Logger().Debug("bridge sent unknown frame", "type", f.Type)
	}
}

func (s *Session) saveMedia(ctx context.Context, f Frame) {
	if s.params.Media == nil {
		return
	}
	path, err := s.params.Media.Save(ctx, f.Filename, f.Mimetype, bytes.NewReader(f.Content))
	if err != nil {
		s.Logger().Warn("media not saved", "filename", f.Filename, "error", err)
		return
	}
	s.Emit(event.EngineEvent, map[string]any{
		"type":     "media.saved",
		"id":       f.ID,
		"path":     path,
		"mimetype": f.Mimetype,
	})
}

// failPending closes every waiting command.
func (s *Session) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, reply := range s.pending {
		close(reply)
		delete(s.pending, id)
	}
}

// Ignored reports whether an event payload comes from a chat the ignore
// rules drop: status broadcasts, groups (@g.us) or channels (@newsletter).
func Ignored(rules config.IgnoreConfig, payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	chat, _ := m["from"].(string)
	if chat == "" {
		chat, _ = m["chatId"].(string)
	}

	switch {
	case chat == "":
		return false
	case rules.Status && chat == "status@broadcast":
		return true
	case rules.Groups && strings.HasSuffix(chat, "@g.us"):
		return true
	case rules.Channels && strings.HasSuffix(chat, "@newsletter"):
		return true
	default:
		return false
	}
}
