// Package httpapi is the HTTP face of the authorization engine: it extracts
// and verifies bearer tokens, attaches the effective principal (and
// impersonation context) to requests, and translates internal error kinds
// into wire responses. It is the only package that speaks HTTP status codes.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/audit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/directory"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/impersonation"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/obs"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/ratelimit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/scope"
)

// ReadyProbe checks downstream readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// RateLimits carries the per-class thresholds applied on sensitive routes.
type RateLimits struct {
	LoginLimit        int
	LoginWindow       time.Duration
	ImpersonateLimit  int
	ImpersonateWindow time.Duration
}

// Deps wires the API's collaborators.
type Deps struct {
	Tokens   *auth.TokenService
	Secrets  *auth.SecretStore
	Users    directory.Directory
	Scope    *scope.Resolver
	Sessions *impersonation.Manager
	Limiter  ratelimit.Limiter
	Audit    *audit.Logger

	ReadyProbe ReadyProbe
	Limits     RateLimits
	Version    string
}

// API is the HTTP layer.
type API struct {
	mux *http.ServeMux

	tokens   *auth.TokenService
	secrets  *auth.SecretStore
	users    directory.Directory
	scope    *scope.Resolver
	sessions *impersonation.Manager
	limiter  ratelimit.Limiter
	audit    *audit.Logger

	readyProbe ReadyProbe
	limits     RateLimits
	version    string
	now        func() time.Time
}

// New builds the API and registers its routes.
func New(deps Deps) (*API, error) {
	if deps.Tokens == nil || deps.Users == nil || deps.Sessions == nil ||
		deps.Limiter == nil || deps.Audit == nil || deps.Scope == nil || deps.Secrets == nil {
		return nil, errors.New("httpapi: missing dependencies")
	}
	a := &API{
		mux:        http.NewServeMux(),
		tokens:     deps.Tokens,
		secrets:    deps.Secrets,
		users:      deps.Users,
		scope:      deps.Scope,
		sessions:   deps.Sessions,
		limiter:    deps.Limiter,
		audit:      deps.Audit,
		readyProbe: deps.ReadyProbe,
		limits:     deps.Limits,
		version:    deps.Version,
		now:        time.Now,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/impersonate/start", a.handleImpersonateStart)
	a.mux.HandleFunc("/v1/auth/impersonate/stop", a.handleImpersonateStop)
	a.mux.HandleFunc("/v1/auth/impersonate/sessions", a.handleImpersonateSessions)
	a.mux.HandleFunc("/v1/auth/rotate-secret", a.handleRotateSecret)

	a.mux.HandleFunc("/v1/authz/accounts/", a.handleAccountAccess)
	a.mux.HandleFunc("/v1/authz/users/", a.handleUserAccess)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "secureadmin-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "secureadmin-auth",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
