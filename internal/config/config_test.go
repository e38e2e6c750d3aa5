package config

import (
	"strings"
	"testing"
	"time"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envPrefix+"AUTH_SECRET", validSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Issuer != "secureadmin" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != time.Hour || cfg.MaxImpersonationTTL != time.Hour {
		t.Errorf("ttl defaults = %v / %v", cfg.AccessTokenTTL, cfg.MaxImpersonationTTL)
	}
	if cfg.LoginRateLimit != 5 || cfg.LoginRateWindow != 15*time.Minute {
		t.Errorf("login limits = %d / %v", cfg.LoginRateLimit, cfg.LoginRateWindow)
	}
	if cfg.ImpersonateLimit != 3 || cfg.ImpersonateWindow != 15*time.Minute {
		t.Errorf("impersonate limits = %d / %v", cfg.ImpersonateLimit, cfg.ImpersonateWindow)
	}
	if cfg.GlobalRateBurst != 100 || cfg.GlobalRatePerSecond != 50 {
		t.Errorf("global limits = %d / %d", cfg.GlobalRateBurst, cfg.GlobalRatePerSecond)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envPrefix+"AUTH_SECRET", validSecret)
	t.Setenv(envPrefix+"LISTEN_ADDR", ":9999")
	t.Setenv(envPrefix+"ACCESS_TTL", "2h")
	t.Setenv(envPrefix+"IMPERSONATION_TTL", "30m")
	t.Setenv(envPrefix+"LOGIN_RATE_LIMIT", "10")
	t.Setenv(envPrefix+"LOGIN_RATE_WINDOW", "5m")
	t.Setenv(envPrefix+"REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.AccessTokenTTL != 2*time.Hour || cfg.MaxImpersonationTTL != 30*time.Minute {
		t.Errorf("ttls = %v / %v", cfg.AccessTokenTTL, cfg.MaxImpersonationTTL)
	}
	if cfg.LoginRateLimit != 10 || cfg.LoginRateWindow != 5*time.Minute {
		t.Errorf("login limits = %d / %v", cfg.LoginRateLimit, cfg.LoginRateWindow)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing secret",
			env:  map[string]string{},
			want: "AUTH_SECRET",
		},
		{
			name: "short secret",
			env:  map[string]string{"AUTH_SECRET": "too-short"},
			want: "at least 32 bytes",
		},
		{
			name: "impersonation ttl above access ttl",
			env: map[string]string{
				"AUTH_SECRET":       validSecret,
				"ACCESS_TTL":        "30m",
				"IMPERSONATION_TTL": "1h",
			},
			want: "must not exceed",
		},
		{
			name: "bad duration",
			env: map[string]string{
				"AUTH_SECRET": validSecret,
				"ACCESS_TTL":  "soon",
			},
			want: "ACCESS_TTL",
		},
		{
			name: "negative duration",
			env: map[string]string{
				"AUTH_SECRET":       validSecret,
				"LOGIN_RATE_WINDOW": "-5m",
			},
			want: "must be positive",
		},
		{
			name: "zero rate limit",
			env: map[string]string{
				"AUTH_SECRET":      validSecret,
				"LOGIN_RATE_LIMIT": "0",
			},
			want: "rate limits must be positive",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(envPrefix+"AUTH_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(envPrefix+k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
