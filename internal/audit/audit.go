// Package audit records privileged actions in an append-only trail. Entries
// are never mutated or deleted here; retention is an operator concern.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/ids"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/obs"
)

// Action names recorded in the trail.
const (
	ActionLoginSucceeded       = "auth.login"
	ActionLoginFailed          = "auth.login_failed"
	ActionSecretRotated        = "auth.secret_rotated"
	ActionImpersonationStarted = "impersonation.started"
	ActionImpersonationEnded   = "impersonation.ended"
	ActionAccessDenied         = "authz.access_denied"
)

// Entry is one audit record.
type Entry struct {
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id"`
	ImpersonatorID string         `json:"impersonator_id,omitempty"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	OldValues      map[string]any `json:"old_values,omitempty"`
	NewValues      map[string]any `json:"new_values,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
}

// Sink persists entries.
type Sink interface {
	Append(ctx context.Context, entry *Entry) error
}

// Logger fills entry metadata and applies the per-action failure policy:
// actions registered as critical fail closed (a sink error propagates to the
// caller, which must abort the action), everything else is best-effort.
type Logger struct {
	sink       Sink
	failClosed map[string]bool
	now        func() time.Time
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithFailClosed marks additional actions as audit-critical.
func WithFailClosed(actions ...string) LoggerOption {
	return func(l *Logger) {
		for _, a := range actions {
			l.failClosed[a] = true
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) LoggerOption {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New builds a Logger. Impersonation start/stop and secret rotation are
// fail-closed by default.
func New(sink Sink, opts ...LoggerOption) (*Logger, error) {
	if sink == nil {
		return nil, errors.New("audit: sink is required")
	}
	l := &Logger{
		sink: sink,
		failClosed: map[string]bool{
			ActionImpersonationStarted: true,
			ActionImpersonationEnded:   true,
			ActionSecretRotated:        true,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends the entry. For fail-closed actions the sink error is
// returned so the triggering action does not proceed unaudited; for others
// the failure is logged and swallowed.
func (l *Logger) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit: entry action is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}
	if err := l.sink.Append(ctx, entry); err != nil {
		if l.failClosed[entry.Action] {
			return err
		}
		obs.LogJSON(map[string]any{
			"ts":     l.now().UTC().Format(time.RFC3339Nano),
			"level":  "warn",
			"msg":    "audit_append_failed",
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
	return nil
}

// FailsClosed reports whether the action is audit-critical.
func (l *Logger) FailsClosed(action string) bool {
	return l.failClosed[action]
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier used to correlate entries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id, if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
