package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/audit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/impersonation"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/obs"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/ratelimit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      auth.Principal `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	// Limit before touching credentials so attempts cannot be enumerated
	// through limiter timing.
	key := ratelimit.Key(ratelimit.ClassLogin, clientIP(r))
	if d := a.limiter.Allow(r.Context(), key, a.limits.LoginLimit, a.limits.LoginWindow); !d.Allowed {
		obs.RateLimited(ratelimit.ClassLogin)
		rateLimited(w, r, d.RetryAfter)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		a.loginFailed(w, r, email)
		return
	}

	principal, passwordHash, err := a.users.FindByEmail(r.Context(), email)
	if err != nil || !principal.IsActive() {
		a.loginFailed(w, r, email)
		return
	}
	if err := auth.VerifyPassword(passwordHash, req.Password); err != nil {
		a.loginFailed(w, r, email)
		return
	}

	token, expiresAt, err := a.tokens.Issue(principal)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = a.audit.Record(r.Context(), &audit.Entry{
		ActorID:      principal.ID,
		Action:       audit.ActionLoginSucceeded,
		ResourceType: "user",
		ResourceID:   principal.ID,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, User: principal})
}

// loginFailed answers every credential failure identically so responses do
// not reveal whether the email exists.
func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, email string) {
	obs.AuthFailure("invalid_credentials")
	_ = a.audit.Record(r.Context(), &audit.Entry{
		Action:       audit.ActionLoginFailed,
		ResourceType: "user",
		NewValues:    map[string]any{"email": email},
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	writeError(w, r, http.StatusUnauthorized, "invalid email or password")
}

type meResponse struct {
	User          auth.Principal      `json:"user"`
	Impersonation *auth.Impersonation `json:"impersonation,omitempty"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	resp := meResponse{User: principal}
	if imp, ok := auth.ImpersonationFromContext(r.Context()); ok {
		resp.Impersonation = &imp
	}
	writeJSON(w, http.StatusOK, resp)
}

type impersonateStartRequest struct {
	TargetUserID string `json:"target_user_id"`
	Reason       string `json:"reason"`
}

type impersonateStartResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	SessionID string    `json:"session_id"`
}

func (a *API) handleImpersonateStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if _, impersonating := auth.ImpersonationFromContext(r.Context()); impersonating {
		writeError(w, r, http.StatusForbidden, "cannot start impersonation while impersonating")
		return
	}

	key := ratelimit.Key(ratelimit.ClassImpersonate, principal.ID)
	if d := a.limiter.Allow(r.Context(), key, a.limits.ImpersonateLimit, a.limits.ImpersonateWindow); !d.Allowed {
		obs.RateLimited(ratelimit.ClassImpersonate)
		rateLimited(w, r, d.RetryAfter)
		return
	}

	var req impersonateStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TargetUserID) == "" {
		writeError(w, r, http.StatusBadRequest, "target_user_id is required")
		return
	}

	target, err := a.users.FindByID(r.Context(), req.TargetUserID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "target user not found")
		return
	}

	result, err := a.sessions.Start(r.Context(), principal, target, strings.TrimSpace(req.Reason), impersonation.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleImpersonationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, impersonateStartResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		SessionID: result.Session.ID,
	})
}

type impersonateStopRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleImpersonateStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req impersonateStopRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	requestedBy := principal
	if imp, impersonating := auth.ImpersonationFromContext(r.Context()); impersonating {
		// The stop request arrives under the target's identity; attribute it
		// to the human behind the session.
		if sessionID == "" {
			sessionID = imp.SessionID
		}
		if actor, err := a.users.FindByID(r.Context(), imp.ImpersonatorID); err == nil {
			requestedBy = actor
		} else {
			requestedBy = auth.Principal{ID: imp.ImpersonatorID}
		}
	}
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	err := a.sessions.Stop(r.Context(), sessionID, requestedBy, impersonation.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleImpersonationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "status": "ended"})
}

func (a *API) handleImpersonateSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if principal.Role != auth.RoleAdmin && principal.Role != auth.RoleSuperadmin {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	sessions, err := a.sessions.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []impersonation.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if principal.Role != auth.RoleSuperadmin {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	version, err := a.secrets.Rotate()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "rotation failed")
		return
	}
	obs.SecretRotated()

	if err := a.audit.Record(r.Context(), &audit.Entry{
		ActorID:      principal.ID,
		Action:       audit.ActionSecretRotated,
		ResourceType: "signing_secret",
		NewValues:    map[string]any{"rotated_at": version.CreatedAt},
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "rotation audit failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"rotated_at": version.CreatedAt})
}

func (a *API) handleAccountAccess(w http.ResponseWriter, r *http.Request) {
	a.handleAccessCheck(w, r, "/v1/authz/accounts/", "account", func(p auth.Principal, id string) bool {
		return a.scope.CanAccessAccount(r.Context(), p, id)
	})
}

func (a *API) handleUserAccess(w http.ResponseWriter, r *http.Request) {
	a.handleAccessCheck(w, r, "/v1/authz/users/", "user", func(p auth.Principal, id string) bool {
		return a.scope.CanAccessUser(r.Context(), p, id)
	})
}

// handleAccessCheck answers "may the caller touch this resource" for the
// admin UI and sibling services. A denial is audited best-effort.
func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request, prefix, resourceType string, allowed func(auth.Principal, string) bool) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	resourceID := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if resourceID == "" || strings.Contains(resourceID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if !allowed(principal, resourceID) {
		_ = a.audit.Record(r.Context(), &audit.Entry{
			ActorID:      principal.ID,
			Action:       audit.ActionAccessDenied,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    clientIP(r),
			UserAgent:    r.UserAgent(),
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
}

func handleImpersonationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, impersonation.ErrSelfImpersonation):
		writeError(w, r, http.StatusForbidden, "cannot impersonate yourself")
	case errors.Is(err, impersonation.ErrImpersonationNotAllowed):
		writeError(w, r, http.StatusForbidden, "impersonation not allowed for this role combination")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, impersonation.ErrSessionNotFound):
		writeError(w, r, http.StatusNotFound, "session not found")
	case errors.Is(err, impersonation.ErrSessionAlreadyEnded):
		writeError(w, r, http.StatusConflict, "session already ended")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func rateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, r, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded, retry in %ds", seconds))
}
