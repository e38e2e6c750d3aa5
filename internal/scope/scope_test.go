package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
)

type fakeAssignments struct {
	csm  map[string][]string
	user map[string][]string
	err  error
}

func (f *fakeAssignments) CSMAccounts(_ context.Context, csmID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.csm[csmID], nil
}

func (f *fakeAssignments) UserAccounts(_ context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user[userID], nil
}

func principal(id string, role auth.Role) auth.Principal {
	return auth.Principal{ID: id, Role: role, Status: auth.StatusActive}
}

func TestCanAccessAccount(t *testing.T) {
	assignments := &fakeAssignments{
		csm:  map[string][]string{"csm-1": {"acct-1", "acct-2"}},
		user: map[string][]string{"user-1": {"acct-2"}},
	}
	r, err := NewResolver(assignments)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		p       auth.Principal
		account string
		want    bool
	}{
		{"superadmin any account", principal("sa-1", auth.RoleSuperadmin), "acct-99", true},
		{"admin any account", principal("a-1", auth.RoleAdmin), "acct-99", true},
		{"csm assigned account", principal("csm-1", auth.RoleCSM), "acct-1", true},
		{"csm unassigned account", principal("csm-1", auth.RoleCSM), "acct-3", false},
		{"csm with no assignments", principal("csm-2", auth.RoleCSM), "acct-1", false},
		{"user own account", principal("user-1", auth.RoleUser), "acct-2", true},
		{"user foreign account", principal("user-1", auth.RoleUser), "acct-1", false},
		{"unknown role", principal("x-1", auth.Role("ghost")), "acct-1", false},
		{"empty account id", principal("sa-1", auth.RoleSuperadmin), "  ", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.CanAccessAccount(ctx, tc.p, tc.account); got != tc.want {
				t.Errorf("CanAccessAccount(%s, %s) = %v, want %v", tc.p.Role, tc.account, got, tc.want)
			}
		})
	}
}

func TestCanAccessUser(t *testing.T) {
	assignments := &fakeAssignments{
		csm: map[string][]string{"csm-1": {"acct-1"}},
		user: map[string][]string{
			"user-1": {"acct-1", "acct-9"},
			"user-2": {"acct-2"},
		},
	}
	r, err := NewResolver(assignments)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name   string
		p      auth.Principal
		target string
		want   bool
	}{
		{"admin any user", principal("a-1", auth.RoleAdmin), "user-2", true},
		{"csm shared account", principal("csm-1", auth.RoleCSM), "user-1", true},
		{"csm disjoint accounts", principal("csm-1", auth.RoleCSM), "user-2", false},
		{"csm no assignments", principal("csm-9", auth.RoleCSM), "user-1", false},
		{"user self", principal("user-2", auth.RoleUser), "user-2", true},
		{"user other", principal("user-2", auth.RoleUser), "user-1", false},
		{"empty target", principal("a-1", auth.RoleAdmin), "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.CanAccessUser(ctx, tc.p, tc.target); got != tc.want {
				t.Errorf("CanAccessUser(%s, %s) = %v, want %v", tc.p.Role, tc.target, got, tc.want)
			}
		})
	}
}

func TestLookupErrorsDenyAccess(t *testing.T) {
	assignments := &fakeAssignments{err: errors.New("store down")}
	r, err := NewResolver(assignments)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()

	if r.CanAccessAccount(ctx, principal("csm-1", auth.RoleCSM), "acct-1") {
		t.Errorf("csm account access must fail closed on store error")
	}
	if r.CanAccessUser(ctx, principal("csm-1", auth.RoleCSM), "user-1") {
		t.Errorf("csm user access must fail closed on store error")
	}
	// Admin-tier access never consults the store.
	if !r.CanAccessAccount(ctx, principal("sa-1", auth.RoleSuperadmin), "acct-1") {
		t.Errorf("superadmin access must not depend on the store")
	}
}

func TestNewResolverRequiresStore(t *testing.T) {
	if _, err := NewResolver(nil); err == nil {
		t.Fatalf("expected error for nil assignment store")
	}
}
