// Package scope decides which accounts and users a principal may see.
// Admin-tier roles see everything; csm and user visibility is derived from
// assignment records, not from the role itself.
package scope

import (
	"context"
	"errors"
	"strings"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
)

// AssignmentStore supplies the assignment records the resolver reasons over.
type AssignmentStore interface {
	// CSMAccounts returns the account ids actively assigned to a csm.
	CSMAccounts(ctx context.Context, csmID string) ([]string, error)
	// UserAccounts returns the account ids a user belongs to.
	UserAccounts(ctx context.Context, userID string) ([]string, error)
}

// Resolver evaluates account- and user-level access. Its methods only ever
// return a verdict: lookup failures read as "no access" and are the caller's
// problem to observe through logs, never through a panic or an error.
type Resolver struct {
	assignments AssignmentStore
}

// NewResolver builds a Resolver over the given assignment store.
func NewResolver(assignments AssignmentStore) (*Resolver, error) {
	if assignments == nil {
		return nil, errors.New("scope: assignment store is required")
	}
	return &Resolver{assignments: assignments}, nil
}

// CanAccessAccount reports whether the principal may touch the account.
func (r *Resolver) CanAccessAccount(ctx context.Context, p auth.Principal, accountID string) bool {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return false
	}
	switch p.Role {
	case auth.RoleSuperadmin, auth.RoleAdmin:
		return true
	case auth.RoleCSM:
		return r.assignedTo(ctx, p.ID, accountID, r.assignments.CSMAccounts)
	case auth.RoleUser:
		return r.assignedTo(ctx, p.ID, accountID, r.assignments.UserAccounts)
	default:
		return false
	}
}

// CanAccessUser reports whether the principal may touch the target user.
// A csm reaches users sharing at least one of its assigned accounts; a plain
// user reaches only itself.
func (r *Resolver) CanAccessUser(ctx context.Context, p auth.Principal, targetUserID string) bool {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return false
	}
	switch p.Role {
	case auth.RoleSuperadmin, auth.RoleAdmin:
		return true
	case auth.RoleCSM:
		mine, err := r.assignments.CSMAccounts(ctx, p.ID)
		if err != nil || len(mine) == 0 {
			return false
		}
		theirs, err := r.assignments.UserAccounts(ctx, targetUserID)
		if err != nil {
			return false
		}
		return intersects(mine, theirs)
	case auth.RoleUser:
		return p.ID == targetUserID
	default:
		return false
	}
}

func (r *Resolver) assignedTo(ctx context.Context, principalID, accountID string, lookup func(context.Context, string) ([]string, error)) bool {
	accounts, err := lookup(ctx, principalID)
	if err != nil {
		return false
	}
	for _, id := range accounts {
		if id == accountID {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
