// Package impersonation lets privileged roles temporarily assume a
// subordinate identity through short-lived, fully audited sessions. The
// session table, not the token, is the authority on whether an
// impersonation is still allowed.
package impersonation

import (
	"context"
	"errors"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
)

var (
	ErrSelfImpersonation       = errors.New("impersonation: cannot impersonate yourself")
	ErrImpersonationNotAllowed = errors.New("impersonation: role combination not allowed")
	ErrSessionNotFound         = errors.New("impersonation: session not found")
	ErrSessionAlreadyEnded     = errors.New("impersonation: session already ended")
)

// Session is one impersonation grant. It transitions none → active → ended
// exactly once; an ended session never reactivates and is retained forever
// for audit.
type Session struct {
	ID                 string     `json:"id"`
	ImpersonatorID     string     `json:"impersonator_id"`
	ImpersonatorRole   auth.Role  `json:"impersonator_role"`
	ImpersonatedUserID string     `json:"impersonated_user_id"`
	Reason             string     `json:"reason,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
}

// ActiveAt reports whether the session is live at the given instant.
func (s Session) ActiveAt(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// Store persists sessions. MarkEnded must be the only mutation, and must
// report whether it actually transitioned the row.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	MarkEnded(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context, now time.Time) ([]Session, error)
}
