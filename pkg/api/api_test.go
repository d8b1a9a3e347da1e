package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/supervisor"
)

type stubSession struct{ *engine.Base }

func (stubSession) Start(context.Context) error                        { return nil }
func (stubSession) Stop(context.Context) error                         { return nil }
func (stubSession) Unpair(context.Context) error                       { return nil }
func (stubSession) EngineInfo(context.Context) (map[string]any, error) { return nil, nil }

// fakeSessions keeps configs and running names in memory.
type fakeSessions struct {
	mu       sync.Mutex
	configs  map[string]config.SessionConfig
	running  map[string]engine.Session
	calls    []string
	stopErr  error
	startErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{configs: map[string]config.SessionConfig{}, running: map[string]engine.Session{}}
}

func (f *fakeSessions) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSessions) Upsert(_ context.Context, name string, cfg *config.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upsert " + name)
	f.configs[name] = cfg.Clone()
	return nil
}

func (f *fakeSessions) Start(_ context.Context, name string) (supervisor.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start " + name)
	if f.startErr != nil {
		return supervisor.Summary{}, f.startErr
	}
	if _, ok := f.running[name]; ok {
		return supervisor.Summary{}, supervisor.ErrAlreadyStarted
	}
	base := engine.NewBase(engine.Params{Name: name, Variant: engine.NoWeb})
	base.SetMe(&event.Me{ID: "1@c.us", PushName: "Ann"})
	f.running[name] = stubSession{base}
	return supervisor.Summary{Name: name, Status: engine.StatusStarting}, nil
}

func (f *fakeSessions) Stop(_ context.Context, name string, silent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if silent {
		f.record("stop-silent " + name)
	} else {
		f.record("stop " + name)
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	delete(f.running, name)
	return nil
}

func (f *fakeSessions) Unpair(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unpair " + name)
}

func (f *fakeSessions) Logout(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logout " + name)
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + name)
	delete(f.configs, name)
	delete(f.running, name)
	return nil
}

func (f *fakeSessions) Session(name string) (engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.running[name]
	if !ok {
		return nil, supervisor.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) Sessions(all bool) []supervisor.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []supervisor.SessionInfo
	for name := range f.configs {
		if _, ok := f.running[name]; ok || all {
			out = append(out, supervisor.SessionInfo{Summary: supervisor.Summary{Name: name}})
		}
	}
	return out
}

func (f *fakeSessions) SessionInfo(_ context.Context, name string) *supervisor.SessionDetailedInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[name]; !ok {
		return nil
	}
	return &supervisor.SessionDetailedInfo{
		SessionInfo: supervisor.SessionInfo{Summary: supervisor.Summary{Name: name, Status: engine.StatusStopped}},
	}
}

func (f *fakeSessions) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAPI_Lifecycle(t *testing.T) {
	f := newFakeSessions()
	h := New(f)

	rec := do(t, h, http.MethodPut, "/api/sessions/default", `{"debug":true,"metadata":{"team":"a"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.configs["default"].Debug)

	rec = do(t, h, http.MethodPost, "/api/sessions/default/start", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	summary := decode[supervisor.Summary](t, rec)
	assert.Equal(t, "default", summary.Name)

	rec = do(t, h, http.MethodPost, "/api/sessions/default/start", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions/default/me", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ann", decode[event.Me](t, rec).PushName)

	rec = do(t, h, http.MethodGet, "/api/sessions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]supervisor.SessionInfo](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/api/sessions/default/stop", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions", "", nil)
	assert.Empty(t, decode[[]supervisor.SessionInfo](t, rec))
	rec = do(t, h, http.MethodGet, "/api/sessions?all=true", "", nil)
	assert.Len(t, decode[[]supervisor.SessionInfo](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/sessions/default", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.StatusStopped, decode[supervisor.SessionDetailedInfo](t, rec).Status)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/sessions/default/unpair", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/sessions/default/logout", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/sessions/default/stop?silent=true", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/sessions/default", "", nil).Code)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sessions/default", "", nil).Code)

	assert.Equal(t, []string{
		"upsert default",
		"start default",
		"start default",
		"stop default",
		"unpair default",
		"logout default",
		"stop-silent default",
		"delete default",
	}, f.history())
}

func TestAPI_MeNotFound(t *testing.T) {
	h := New(newFakeSessions())

	rec := do(t, h, http.MethodGet, "/api/sessions/ghost/me", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := newFakeSessions()
	f.startErr = supervisor.ErrClosed
	f.stopErr = assert.AnError
	h := New(f)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/sessions/x/start", "", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/api/sessions/x/stop", "", nil).Code)
}

func TestAPI_UpsertValidation(t *testing.T) {
	f := newFakeSessions()
	h := New(f)

	rec := do(t, h, http.MethodPut, "/api/sessions/default", `{"webhooks":[{"url":"not a url"}]}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/sessions/default", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.history())
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	h := New(newFakeSessions())
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/sessions/default/start", "", nil).Code)
}

func TestAPI_StreamMounted(t *testing.T) {
	called := false
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	h := New(newFakeSessions(), WithStream(stream))

	assert.Equal(t, http.StatusTeapot, do(t, h, http.MethodGet, "/ws", "", nil).Code)
	assert.True(t, called)
}

func signed(t *testing.T, secret, issuer string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestAPI_Auth(t *testing.T) {
	auth := NewAuthenticator(config.APIConfig{Key: "k3y", JWTSecret: "s3cret", JWTIssuer: "sessiond"})
	h := New(newFakeSessions(), WithAuth(auth))
	later := time.Now().Add(time.Hour)

	bearer := func(tok string) http.Header {
		return http.Header{"Authorization": {"Bearer " + tok}}
	}

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"api key", http.Header{HeaderAPIKey: {"k3y"}}, http.StatusOK},
		{"wrong api key", http.Header{HeaderAPIKey: {"nope"}}, http.StatusUnauthorized},
		{"jwt", bearer(signed(t, "s3cret", "sessiond", jwt.SigningMethodHS256, later)), http.StatusOK},
		{"jwt wrong secret", bearer(signed(t, "other", "sessiond", jwt.SigningMethodHS256, later)), http.StatusUnauthorized},
		{"jwt wrong issuer", bearer(signed(t, "s3cret", "else", jwt.SigningMethodHS256, later)), http.StatusUnauthorized},
		{"jwt wrong method", bearer(signed(t, "s3cret", "sessiond", jwt.SigningMethodHS512, later)), http.StatusUnauthorized},
		{"jwt expired", bearer(signed(t, "s3cret", "sessiond", jwt.SigningMethodHS256, time.Now().Add(-time.Hour))), http.StatusUnauthorized},
		{"malformed bearer", bearer("garbage"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, h, http.MethodGet, "/api/sessions", "", tt.header).Code)
		})
	}

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
}

func TestAuthenticator_Disabled(t *testing.T) {
	auth := NewAuthenticator(config.APIConfig{})
	assert.False(t, auth.Enabled())
	assert.NoError(t, auth.Check(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestAPI_UpsertWithoutBody(t *testing.T) {
	f := newFakeSessions()
	h := New(f)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/api/sessions/ghost", "", nil).Code)
	assert.Equal(t, []string{"upsert ghost"}, f.history())
}
