package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryAllowWithinLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	m := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	key := Key(ClassLogin, "203.0.113.9")

	for i := 0; i < 5; i++ {
		d := m.Allow(ctx, key, 5, 15*time.Minute)
		if !d.Allowed {
			t.Fatalf("request %d: unexpectedly denied", i+1)
		}
		if d.Remaining != 4-i {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
	}

	d := m.Allow(ctx, key, 5, 15*time.Minute)
	if d.Allowed {
		t.Fatalf("sixth request within the window must be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 15*time.Minute {
		t.Fatalf("RetryAfter = %v, want within (0, 15m]", d.RetryAfter)
	}
}

func TestMemoryWindowRollover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	m := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	key := Key(ClassImpersonate, "admin-1")

	for i := 0; i < 3; i++ {
		m.Allow(ctx, key, 3, time.Minute)
	}
	if d := m.Allow(ctx, key, 3, time.Minute); d.Allowed {
		t.Fatalf("fourth request within the window must be denied")
	}

	now = now.Add(time.Minute)
	d := m.Allow(ctx, key, 3, time.Minute)
	if !d.Allowed {
		t.Fatalf("first request of the new window must be allowed")
	}
	if d.Remaining != 2 {
		t.Fatalf("remaining after rollover = %d, want 2", d.Remaining)
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	m := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m.Allow(ctx, Key(ClassLogin, "198.51.100.1"), 2, time.Minute)
	}
	if d := m.Allow(ctx, Key(ClassLogin, "198.51.100.1"), 2, time.Minute); d.Allowed {
		t.Fatalf("exhausted key must be denied")
	}
	if d := m.Allow(ctx, Key(ClassLogin, "198.51.100.2"), 2, time.Minute); !d.Allowed {
		t.Fatalf("a different identity must not share the counter")
	}
	if d := m.Allow(ctx, Key(ClassImpersonate, "198.51.100.1"), 2, time.Minute); !d.Allowed {
		t.Fatalf("a different class must not share the counter")
	}
}

func TestMemoryPurgeKeepsLiveWindowsOfOtherClasses(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	m := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	loginKey := Key(ClassLogin, "203.0.113.9")

	for i := 0; i < 5; i++ {
		m.Allow(ctx, loginKey, 5, 15*time.Minute)
	}
	if d := m.Allow(ctx, loginKey, 5, 15*time.Minute); d.Allowed {
		t.Fatalf("login key must be exhausted")
	}

	// Grow past the purge threshold with short-window counters, then let
	// those elapse and trigger a purge from the short-window class.
	for i := 0; i < purgeThreshold+200; i++ {
		m.Allow(ctx, Key(ClassImpersonate, fmt.Sprintf("filler-%d", i)), 3, time.Minute)
	}
	now = now.Add(2 * time.Minute)
	m.Allow(ctx, Key(ClassImpersonate, "trigger"), 3, time.Minute)

	// The login window is 15 minutes and only 2 have passed; its counter
	// must not have been reset by the purge.
	if d := m.Allow(ctx, loginKey, 5, 15*time.Minute); d.Allowed {
		t.Fatalf("exhausted login key allowed again mid-window after purge")
	}

	m.mu.Lock()
	size := len(m.windows)
	m.mu.Unlock()
	if size > purgeThreshold {
		t.Fatalf("elapsed filler windows were not purged, %d entries remain", size)
	}
}

func TestMemoryZeroLimitDisables(t *testing.T) {
	m := NewMemory()
	if d := m.Allow(context.Background(), Key(ClassLogin, "x"), 0, time.Minute); !d.Allowed {
		t.Fatalf("limit 0 must disable the limiter")
	}
}

func TestKey(t *testing.T) {
	if got := Key(ClassLogin, "1.2.3.4"); got != "login:1.2.3.4" {
		t.Fatalf("Key = %q", got)
	}
	if got := Key(ClassImpersonate, ""); got != "impersonate:unknown" {
		t.Fatalf("Key with empty identity = %q", got)
	}
}
