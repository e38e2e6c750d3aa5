package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/audit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/directory"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/impersonation"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/ratelimit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/scope"
)

type staticAssignments struct {
	csm  map[string][]string
	user map[string][]string
}

func (s staticAssignments) CSMAccounts(_ context.Context, id string) ([]string, error) {
	return s.csm[id], nil
}

func (s staticAssignments) UserAccounts(_ context.Context, id string) ([]string, error) {
	return s.user[id], nil
}

type apiFixture struct {
	handler http.Handler
	users   *directory.Memory
	tokens  *auth.TokenService
	secrets *auth.SecretStore
}

const fixturePassword = "correct horse battery staple"

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	secrets, err := auth.NewSecretStore(make([]byte, 32), time.Hour)
	if err != nil {
		t.Fatalf("NewSecretStore: %v", err)
	}
	tokens, err := auth.NewTokenService(secrets)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	users := directory.NewMemory()
	hash, err := auth.HashPassword(fixturePassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	seed := []auth.Principal{
		{ID: "sa-1", Email: "root@fleet.example", Role: auth.RoleSuperadmin, Status: auth.StatusActive},
		{ID: "admin-1", Email: "admin@fleet.example", Role: auth.RoleAdmin, Status: auth.StatusActive},
		{ID: "admin-2", Email: "admin2@fleet.example", Role: auth.RoleAdmin, Status: auth.StatusActive},
		{ID: "csm-1", Email: "csm@fleet.example", Role: auth.RoleCSM, Status: auth.StatusActive},
		{ID: "user-1", Email: "user@fleet.example", Role: auth.RoleUser, Status: auth.StatusActive},
		{ID: "user-2", Email: "user2@fleet.example", Role: auth.RoleUser, Status: auth.StatusDisabled},
	}
	for _, p := range seed {
		users.Put(p, hash)
	}

	auditor, err := audit.New(audit.LogSink{})
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	resolver, err := scope.NewResolver(staticAssignments{
		csm:  map[string][]string{"csm-1": {"acct-1"}},
		user: map[string][]string{"user-1": {"acct-1"}},
	})
	if err != nil {
		t.Fatalf("scope.NewResolver: %v", err)
	}
	manager, err := impersonation.NewManager(tokens, impersonation.NewMemoryStore(), auditor)
	if err != nil {
		t.Fatalf("impersonation.NewManager: %v", err)
	}

	api, err := New(Deps{
		Tokens:   tokens,
		Secrets:  secrets,
		Users:    users,
		Scope:    resolver,
		Sessions: manager,
		Limiter:  ratelimit.NewMemory(),
		Audit:    auditor,
		Limits: RateLimits{
			LoginLimit:        5,
			LoginWindow:       15 * time.Minute,
			ImpersonateLimit:  3,
			ImpersonateWindow: 15 * time.Minute,
		},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &apiFixture{handler: api.Handler(), users: users, tokens: tokens, secrets: secrets}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (f *apiFixture) tokenFor(t *testing.T, id string) string {
	t.Helper()
	p, err := f.users.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	token, _, err := f.tokens.Issue(p)
	if err != nil {
		t.Fatalf("Issue(%s): %v", id, err)
	}
	return token
}

func TestLoginSuccess(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "Admin@Fleet.Example",
		"password": fixturePassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" || resp.User.ID != "admin-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	claims, err := f.tokens.Verify(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.IsImpersonationToken() {
		t.Fatalf("login must issue an access token")
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newAPIFixture(t)

	wrongPassword := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "admin@fleet.example", "password": "nope",
	})
	unknownEmail := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ghost@fleet.example", "password": "nope",
	})
	disabledUser := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "user2@fleet.example", "password": fixturePassword,
	})

	for name, rec := range map[string]*httptest.ResponseRecorder{
		"wrong password": wrongPassword,
		"unknown email":  unknownEmail,
		"disabled user":  disabledUser,
	} {
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", name, rec.Code)
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["error"] != "invalid email or password" {
			t.Errorf("%s: error = %v, responses must not distinguish failure causes", name, resp["error"])
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]string{"email": "ghost@fleet.example", "password": "nope"}

	for i := 0; i < 5; i++ {
		if rec := f.do(t, http.MethodPost, "/v1/auth/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i+1, rec.Code)
		}
	}
	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("429 response must carry Retry-After")
	}
}

func TestMeRequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/v1/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/auth/me", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/auth/me", f.tokenFor(t, "csm-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp meResponse
	decodeBody(t, rec, &resp)
	if resp.User.ID != "csm-1" || resp.Impersonation != nil {
		t.Fatalf("unexpected me response: %+v", resp)
	}
}

func TestImpersonationFlow(t *testing.T) {
	f := newAPIFixture(t)
	adminToken := f.tokenFor(t, "admin-1")

	rec := f.do(t, http.MethodPost, "/v1/auth/impersonate/start", adminToken, map[string]string{
		"target_user_id": "user-1",
		"reason":         "support ticket 881",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var started impersonateStartResponse
	decodeBody(t, rec, &started)
	if started.Token == "" || started.SessionID == "" {
		t.Fatalf("incomplete start response: %+v", started)
	}

	// Requests with the impersonation token act as the target, with the
	// impersonation surfaced.
	rec = f.do(t, http.MethodGet, "/v1/auth/me", started.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me as target: status = %d", rec.Code)
	}
	var me meResponse
	decodeBody(t, rec, &me)
	if me.User.ID != "user-1" {
		t.Fatalf("effective user = %s, want user-1", me.User.ID)
	}
	if me.Impersonation == nil || me.Impersonation.ImpersonatorID != "admin-1" || me.Impersonation.SessionID != started.SessionID {
		t.Fatalf("impersonation context missing or wrong: %+v", me.Impersonation)
	}

	// Nesting is rejected.
	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/start", started.Token, map[string]string{
		"target_user_id": "csm-1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("nested start: status = %d, want 403", rec.Code)
	}

	// Stop with the impersonation token itself; the session id is implied.
	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/stop", started.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The impersonation token dies with its session.
	rec = f.do(t, http.MethodGet, "/v1/auth/me", started.Token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after stop: status = %d, want 401", rec.Code)
	}

	// A second stop conflicts.
	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/stop", adminToken, map[string]string{
		"session_id": started.SessionID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double stop: status = %d, want 409", rec.Code)
	}
}

func TestImpersonationDeniedByRole(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/impersonate/start", f.tokenFor(t, "csm-1"), map[string]string{
		"target_user_id": "user-1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("csm start: status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/start", f.tokenFor(t, "admin-1"), map[string]string{
		"target_user_id": "sa-1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin impersonating superadmin: status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/start", f.tokenFor(t, "admin-1"), map[string]string{
		"target_user_id": "admin-1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self impersonation: status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/start", f.tokenFor(t, "admin-1"), map[string]string{
		"target_user_id": "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown target: status = %d, want 404", rec.Code)
	}
}

func TestStopForeignSessionForbidden(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/impersonate/start", f.tokenFor(t, "admin-1"), map[string]string{
		"target_user_id": "user-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d", rec.Code)
	}
	var started impersonateStartResponse
	decodeBody(t, rec, &started)

	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/stop", f.tokenFor(t, "admin-2"), map[string]string{
		"session_id": started.SessionID,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("peer admin stop: status = %d, want 403", rec.Code)
	}

	// A superadmin outranks the impersonator.
	rec = f.do(t, http.MethodPost, "/v1/auth/impersonate/stop", f.tokenFor(t, "sa-1"), map[string]string{
		"session_id": started.SessionID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("superadmin stop: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSessionListingRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/v1/auth/impersonate/sessions", f.tokenFor(t, "csm-1"), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("csm listing: status = %d, want 403", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/auth/impersonate/sessions", f.tokenFor(t, "admin-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin listing: status = %d", rec.Code)
	}
	var resp struct {
		Sessions []impersonation.Session `json:"sessions"`
	}
	decodeBody(t, rec, &resp)
	if resp.Sessions == nil {
		t.Fatalf("sessions must decode to an empty list, not null")
	}
}

func TestRotateSecret(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodPost, "/v1/auth/rotate-secret", f.tokenFor(t, "admin-1"), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("admin rotation: status = %d, want 403", rec.Code)
	}

	// Tokens issued before the rotation stay valid through the grace window.
	oldToken := f.tokenFor(t, "csm-1")
	rec := f.do(t, http.MethodPost, "/v1/auth/rotate-secret", f.tokenFor(t, "sa-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("superadmin rotation: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/v1/auth/me", oldToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("pre-rotation token: status = %d, want 200", rec.Code)
	}
}

func TestAccessCheckEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	csmToken := f.tokenFor(t, "csm-1")

	if rec := f.do(t, http.MethodGet, "/v1/authz/accounts/acct-1", csmToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("assigned account: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/authz/accounts/acct-99", csmToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("unassigned account: status = %d, want 403", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/authz/users/user-1", csmToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("user on shared account: status = %d", rec.Code)
	}

	userToken := f.tokenFor(t, "user-1")
	if rec := f.do(t, http.MethodGet, "/v1/authz/users/user-1", userToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("user self check: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/authz/users/csm-1", userToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("user foreign check: status = %d, want 403", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, "/v1/authz/accounts/", f.tokenFor(t, "sa-1"), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("empty resource id: status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
	}
}

func TestProbesArePublic(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := f.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("responses must carry X-Request-ID")
	}
}
