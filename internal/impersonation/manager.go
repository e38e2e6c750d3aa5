package impersonation

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/audit"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/obs"
)

const lockShards = 64

// RequestMeta carries the caller context captured into audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// StartResult is a freshly started session with its bearer token.
type StartResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Session   Session   `json:"session"`
}

// Manager orchestrates session start and stop. Start and stop of a given
// session are serialized on a sharded per-key lock so concurrent stops
// cannot double-transition a session; sessions with distinct ids do not
// contend.
type Manager struct {
	tokens *auth.TokenService
	store  Store
	audit  *audit.Logger

	ttl   time.Duration
	now   func() time.Time
	locks [lockShards]sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the session (and token) lifetime requested at start.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager wires the session manager.
func NewManager(tokens *auth.TokenService, store Store, auditor *audit.Logger, opts ...ManagerOption) (*Manager, error) {
	if tokens == nil || store == nil || auditor == nil {
		return nil, fmt.Errorf("impersonation: token service, store and audit logger are required")
	}
	m := &Manager{
		tokens: tokens,
		store:  store,
		audit:  auditor,
		ttl:    tokens.MaxImpersonationTTL(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start validates the impersonator/target pair, creates an active session
// and issues its token. The IMPERSONATION_STARTED audit entry is
// fail-closed: if it cannot be recorded the session is torn down and the
// start fails.
func (m *Manager) Start(ctx context.Context, impersonator, target auth.Principal, reason string, meta RequestMeta) (*StartResult, error) {
	if impersonator.ID == target.ID {
		return nil, ErrSelfImpersonation
	}
	if !auth.CanImpersonate(impersonator.Role, target.Role) {
		return nil, ErrImpersonationNotAllowed
	}

	now := m.now().UTC()
	session := Session{
		ID:                 uuid.NewString(),
		ImpersonatorID:     impersonator.ID,
		ImpersonatorRole:   impersonator.Role,
		ImpersonatedUserID: target.ID,
		Reason:             reason,
		StartedAt:          now,
		ExpiresAt:          now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, &session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, expiresAt, err := m.tokens.IssueImpersonation(target, impersonator.ID, session.ID, m.ttl)
	if err != nil {
		_ = m.store.MarkEnded(ctx, session.ID, now)
		return nil, err
	}

	entry := &audit.Entry{
		ActorID:        impersonator.ID,
		ImpersonatorID: impersonator.ID,
		Action:         audit.ActionImpersonationStarted,
		ResourceType:   "user",
		ResourceID:     target.ID,
		NewValues: map[string]any{
			"session_id": session.ID,
			"reason":     reason,
			"expires_at": session.ExpiresAt,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		// No audit, no impersonation.
		_ = m.store.MarkEnded(ctx, session.ID, m.now().UTC())
		return nil, fmt.Errorf("record impersonation start: %w", err)
	}

	obs.ImpersonationStarted()
	return &StartResult{Token: token, ExpiresAt: expiresAt, Session: session}, nil
}

// Stop ends an active session. Only the recorded impersonator, or a role
// outranking it, may stop a session. A second stop is an error, not a no-op.
func (m *Manager) Stop(ctx context.Context, sessionID string, requestedBy auth.Principal, meta RequestMeta) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.store.Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if requestedBy.ID != session.ImpersonatorID && auth.Rank(requestedBy.Role) <= auth.Rank(session.ImpersonatorRole) {
		return auth.ErrForbidden
	}
	if session.EndedAt != nil {
		return ErrSessionAlreadyEnded
	}

	now := m.now().UTC()
	entry := &audit.Entry{
		ActorID:        requestedBy.ID,
		ImpersonatorID: session.ImpersonatorID,
		Action:         audit.ActionImpersonationEnded,
		ResourceType:   "user",
		ResourceID:     session.ImpersonatedUserID,
		OldValues:      map[string]any{"session_id": sessionID},
		NewValues:      map[string]any{"ended_at": now},
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}
	// Audit before the transition: if the entry cannot be recorded the
	// session stays active and the stop can be retried, so the trail never
	// loses an ending.
	if err := m.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("record impersonation stop: %w", err)
	}
	if err := m.store.MarkEnded(ctx, sessionID, now); err != nil {
		return err
	}
	obs.ImpersonationEnded()
	return nil
}

// IsActive reports whether the session may still be used. Expiry is
// detected lazily: a session past its token lifetime is transitioned to
// ended on first sight and never reports active again.
func (m *Manager) IsActive(ctx context.Context, sessionID string) bool {
	session, err := m.store.Find(ctx, sessionID)
	if err != nil {
		return false
	}
	if session.EndedAt != nil {
		return false
	}
	now := m.now().UTC()
	if !now.Before(session.ExpiresAt) {
		lock := m.lockFor(sessionID)
		lock.Lock()
		defer lock.Unlock()
		if err := m.store.MarkEnded(ctx, sessionID, session.ExpiresAt); err == nil {
			obs.ImpersonationEnded()
		}
		return false
	}
	return true
}

// ActiveSessions lists live sessions for operator review.
func (m *Manager) ActiveSessions(ctx context.Context) ([]Session, error) {
	return m.store.ListActive(ctx, m.now().UTC())
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &m.locks[h.Sum32()%lockShards]
}
