// Package api exposes the session supervisor over HTTP:
//
//	GET    /api/sessions?all=true
//	GET    /api/sessions/{name}
//	PUT    /api/sessions/{name}          body: session config
//	DELETE /api/sessions/{name}
//	POST   /api/sessions/{name}/start
//	POST   /api/sessions/{name}/stop     ?silent=true
//	POST   /api/sessions/{name}/unpair
//	POST   /api/sessions/{name}/logout
//	GET    /api/sessions/{name}/me
//	GET    /ws                           event stream, see package stream
//	GET    /health
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/logging"
	"github.com/germanamz/sessiond/pkg/supervisor"
)

// Sessions is the part of the supervisor the API drives.
type Sessions interface {
	Upsert(ctx context.Context, name string, cfg *config.SessionConfig) error
	Start(ctx context.Context, name string) (supervisor.Summary, error)
	Stop(ctx context.Context, name string, silent bool) error
	Unpair(ctx context.Context, name string)
	Logout(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	Session(name string) (engine.Session, error)
	Sessions(all bool) []supervisor.SessionInfo
	SessionInfo(ctx context.Context, name string) *supervisor.SessionDetailedInfo
}

// Option configures the API handler.
type Option func(*server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *server) { s.log = l } }

// WithAuth protects every route except /health.
func WithAuth(a *Authenticator) Option { return func(s *server) { s.auth = a } }

// WithStream mounts an event stream handler at /ws.
func WithStream(h http.Handler) Option { return func(s *server) { s.stream = h } }

type server struct {
	sessions Sessions
	log      *slog.Logger
	auth     *Authenticator
	stream   http.Handler
}

// New returns the HTTP handler for sessions.
func New(sessions Sessions, opts ...Option) http.Handler {
	s := &server{sessions: sessions, log: logging.Discard()}
	for _, o := range opts {
		o(s)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/sessions", s.list)
	protected.HandleFunc("GET /api/sessions/{name}", s.info)
	protected.HandleFunc("PUT /api/sessions/{name}", s.upsert)
	protected.HandleFunc("DELETE /api/sessions/{name}", s.delete)
	protected.HandleFunc("POST /api/sessions/{name}/start", s.start)
	protected.HandleFunc("POST /api/sessions/{name}/stop", s.stop)
	protected.HandleFunc("POST /api/sessions/{name}/unpair", s.unpair)
	protected.HandleFunc("POST /api/sessions/{name}/logout", s.logout)
	protected.HandleFunc("GET /api/sessions/{name}/me", s.me)
	if s.stream != nil {
		protected.Handle("GET /ws", s.stream)
	}

	var handler http.Handler = protected
	if s.auth != nil {
		handler = s.auth.Middleware(protected)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/", handler)

	return root
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	writeJSON(w, http.StatusOK, s.sessions.Sessions(all))
}

func (s *server) info(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info := s.sessions.SessionInfo(r.Context(), name)
	if info == nil {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) upsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var cfg config.SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, hook := range cfg.Webhooks {
		if err := config.ValidateWebhook(hook); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}

	if err := s.sessions.Upsert(r.Context(), name, &cfg); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "config": cfg})
}

func (s *server) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("name")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) start(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sessions.Start(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *server) stop(w http.ResponseWriter, r *http.Request) {
	silent, _ := strconv.ParseBool(r.URL.Query().Get("silent"))
	if err := s.sessions.Stop(r.Context(), r.PathValue("name"), silent); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) unpair(w http.ResponseWriter, r *http.Request) {
	s.sessions.Unpair(r.Context(), r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), r.PathValue("name")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Session(r.PathValue("name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Me())
}

// fail maps supervisor errors to HTTP statuses.
func (s *server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, supervisor.ErrAlreadyStarted):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, supervisor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
