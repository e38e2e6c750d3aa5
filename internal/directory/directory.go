// Package directory supplies identities to the auth engine. Persistence of
// users themselves belongs to the user-management service; this package only
// defines the lookup contract and an in-memory implementation used by tests
// and the demo wiring.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
)

var ErrNotFound = errors.New("directory: user not found")

// Directory resolves principals by id or email. FindByEmail also returns the
// stored password hash so the login flow can verify credentials.
type Directory interface {
	FindByID(ctx context.Context, id string) (auth.Principal, error)
	FindByEmail(ctx context.Context, email string) (auth.Principal, string, error)
}

type memoryRecord struct {
	principal    auth.Principal
	passwordHash string
}

// Memory is a map-backed Directory.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]memoryRecord
	byEmail map[string]string // email -> id
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]memoryRecord),
		byEmail: make(map[string]string),
	}
}

// Put inserts or replaces a user record.
func (m *Memory) Put(p auth.Principal, passwordHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(p.Email))
	m.byID[p.ID] = memoryRecord{principal: p, passwordHash: passwordHash}
	if email != "" {
		m.byEmail[email] = p.ID
	}
}

func (m *Memory) FindByID(ctx context.Context, id string) (auth.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return auth.Principal{}, ErrNotFound
	}
	return rec.principal, nil
}

func (m *Memory) FindByEmail(ctx context.Context, email string) (auth.Principal, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return auth.Principal{}, "", ErrNotFound
	}
	rec := m.byID[id]
	return rec.principal, rec.passwordHash, nil
}
