package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of principal roles. All hierarchy decisions route
// through the functions in this file; string comparisons elsewhere are a bug.
type Role string

const (
	RoleUser       Role = "user"
	RoleCSM        Role = "csm"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

var roleRanks = map[Role]int{
	RoleUser:       0,
	RoleCSM:        1,
	RoleAdmin:      2,
	RoleSuperadmin: 3,
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

func (r Role) String() string { return string(r) }

// Rank returns the role's position in the total order
// superadmin(3) > admin(2) > csm(1) > user(0). Unknown roles rank -1.
func Rank(r Role) int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// CanManage reports whether actor may manage target. Only admin and
// superadmin manage anyone at all, and strictly down the hierarchy:
// admin reaches csm and user, superadmin reaches everyone below itself.
func CanManage(actor, target Role) bool {
	if !actor.Valid() || !target.Valid() {
		return false
	}
	if actor != RoleAdmin && actor != RoleSuperadmin {
		return false
	}
	return Rank(actor) > Rank(target)
}

// CanImpersonate reports whether actor's role may assume target's role.
// Superadmin may impersonate any lower role; admin only csm and user.
// Identity-level checks (self-impersonation) are the session manager's job.
func CanImpersonate(actor, target Role) bool {
	if !actor.Valid() || !target.Valid() {
		return false
	}
	switch actor {
	case RoleSuperadmin:
		return target != RoleSuperadmin
	case RoleAdmin:
		return target == RoleCSM || target == RoleUser
	default:
		return false
	}
}

// VisibleRoles returns the roles whose holders the actor may list directly.
// csm and user get nothing here; their visibility is resource-scoped and
// resolved from assignment records instead.
func VisibleRoles(actor Role) []Role {
	switch actor {
	case RoleSuperadmin, RoleAdmin:
		return []Role{RoleSuperadmin, RoleAdmin, RoleCSM, RoleUser}
	default:
		return nil
	}
}
