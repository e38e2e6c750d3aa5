package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const minSecretBytes = 32

// SecretVersion is one signing secret together with its creation time.
type SecretVersion struct {
	Secret    []byte
	CreatedAt time.Time
}

// secretSnapshot is the immutable state readers observe. Rotation swaps the
// whole snapshot, so a concurrent verify sees either the pre- or the
// post-rotation secret set, never a mix.
type secretSnapshot struct {
	current   SecretVersion
	previous  *SecretVersion
	rotatedAt time.Time // when previous was demoted
}

// SecretStore holds the current signing secret and at most one retired
// predecessor. The predecessor stays usable for verification only, and only
// for the grace window bounded by the maximum token lifetime.
type SecretStore struct {
	mu   sync.Mutex // serializes Rotate
	snap atomic.Pointer[secretSnapshot]

	grace time.Duration
	now   func() time.Time
}

// SecretStoreOption configures a SecretStore.
type SecretStoreOption func(*SecretStore)

// WithSecretClock overrides the time source, for tests.
func WithSecretClock(fn func() time.Time) SecretStoreOption {
	return func(s *SecretStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSecretStore builds a store seeded with the given secret. grace is the
// maximum token lifetime: a retired secret older than that can no longer
// have live tokens and is discarded.
func NewSecretStore(initial []byte, grace time.Duration, opts ...SecretStoreOption) (*SecretStore, error) {
	if len(initial) < minSecretBytes {
		return nil, fmt.Errorf("auth: secret must be at least %d bytes", minSecretBytes)
	}
	if grace <= 0 {
		return nil, errors.New("auth: grace window must be positive")
	}
	s := &SecretStore{grace: grace, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	seed := make([]byte, len(initial))
	copy(seed, initial)
	s.snap.Store(&secretSnapshot{
		current: SecretVersion{Secret: seed, CreatedAt: s.now().UTC()},
	})
	return s, nil
}

// Current returns the secret used for signing.
func (s *SecretStore) Current() SecretVersion {
	return s.snap.Load().current
}

// Verifiers returns the secrets a token may have been signed with: the
// current one first, then the retired one if its grace window is still open.
func (s *SecretStore) Verifiers() []SecretVersion {
	snap := s.snap.Load()
	out := []SecretVersion{snap.current}
	if snap.previous != nil && s.now().Sub(snap.rotatedAt) < s.grace {
		out = append(out, *snap.previous)
	}
	return out
}

// Rotate demotes the current secret and installs a freshly generated one.
// The swap is a single pointer store; in-flight Verifiers calls keep reading
// whichever snapshot they loaded.
func (s *SecretStore) Rotate() (SecretVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := GenerateSecret()
	if err != nil {
		return SecretVersion{}, err
	}
	now := s.now().UTC()
	old := s.snap.Load().current
	next := SecretVersion{Secret: fresh, CreatedAt: now}
	s.snap.Store(&secretSnapshot{
		current:   next,
		previous:  &old,
		rotatedAt: now,
	})
	return next, nil
}

// GenerateSecret returns 256 bits of cryptographically strong key material.
func GenerateSecret() ([]byte, error) {
	buf := make([]byte, minSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("auth: generate secret: %w", err)
	}
	return buf, nil
}
