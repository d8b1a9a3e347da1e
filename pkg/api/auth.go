package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/germanamz/sessiond/pkg/config"
)

// HeaderAPIKey carries the static API key.
const HeaderAPIKey = "X-Api-Key"

var errUnauthorized = errors.New("unauthorized")

// Authenticator checks API requests against the configured key or JWT
// secret. Either credential is accepted.
type Authenticator struct {
	cfg    config.APIConfig
	parser *jwt.Parser
}

// NewAuthenticator creates an Authenticator for cfg.
func NewAuthenticator(cfg config.APIConfig) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	return &Authenticator{cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a.cfg.Key != "" || a.cfg.JWTSecret != ""
}

// Check authenticates r.
func (a *Authenticator) Check(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}

	if key := r.Header.Get(HeaderAPIKey); key != "" && a.cfg.Key != "" {
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.Key)) == 1 {
			return nil
		}
		return errUnauthorized
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" || a.cfg.JWTSecret == "" {
		return errUnauthorized
	}

	_, err := a.parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	return nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
