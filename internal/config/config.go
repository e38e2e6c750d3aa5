// Package config loads the service configuration from the environment once
// at startup; nothing reads environment variables at request time.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "SECUREADMIN_"

// Config is everything the service needs at boot.
type Config struct {
	ListenAddr string
	Issuer     string

	// AuthSecret seeds the secret store; rotation replaces it in memory.
	AuthSecret string

	AccessTokenTTL      time.Duration
	MaxImpersonationTTL time.Duration

	LoginRateLimit    int
	LoginRateWindow   time.Duration
	ImpersonateLimit  int
	ImpersonateWindow time.Duration

	// Coarse per-IP flood protection in front of every route.
	GlobalRateBurst     int
	GlobalRatePerSecond int

	PostgresDSN string
	RedisAddr   string
}

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:          getenv("LISTEN_ADDR", ":8080"),
		Issuer:              getenv("ISSUER", "secureadmin"),
		AuthSecret:          strings.TrimSpace(os.Getenv(envPrefix + "AUTH_SECRET")),
		AccessTokenTTL:      time.Hour,
		MaxImpersonationTTL: time.Hour,
		LoginRateLimit:      5,
		LoginRateWindow:     15 * time.Minute,
		ImpersonateLimit:    3,
		ImpersonateWindow:   15 * time.Minute,
		GlobalRateBurst:     100,
		GlobalRatePerSecond: 50,
		PostgresDSN:         os.Getenv(envPrefix + "PG_DSN"),
		RedisAddr:           os.Getenv(envPrefix + "REDIS_ADDR"),
	}

	var err error
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.MaxImpersonationTTL, err = getDuration("IMPERSONATION_TTL", cfg.MaxImpersonationTTL); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateWindow, err = getDuration("LOGIN_RATE_WINDOW", cfg.LoginRateWindow); err != nil {
		return Config{}, err
	}
	if cfg.ImpersonateWindow, err = getDuration("IMPERSONATE_RATE_WINDOW", cfg.ImpersonateWindow); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = getInt("LOGIN_RATE_LIMIT", cfg.LoginRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.ImpersonateLimit, err = getInt("IMPERSONATE_RATE_LIMIT", cfg.ImpersonateLimit); err != nil {
		return Config{}, err
	}
	if cfg.GlobalRateBurst, err = getInt("GLOBAL_RATE_BURST", cfg.GlobalRateBurst); err != nil {
		return Config{}, err
	}
	if cfg.GlobalRatePerSecond, err = getInt("GLOBAL_RATE_PER_SECOND", cfg.GlobalRatePerSecond); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AuthSecret == "" {
		return errors.New("config: " + envPrefix + "AUTH_SECRET is required")
	}
	if len(c.AuthSecret) < 32 {
		return errors.New("config: auth secret must be at least 32 bytes")
	}
	if c.MaxImpersonationTTL > c.AccessTokenTTL {
		return errors.New("config: impersonation ttl must not exceed access token ttl")
	}
	if c.LoginRateLimit <= 0 || c.ImpersonateLimit <= 0 {
		return errors.New("config: rate limits must be positive")
	}
	if c.GlobalRateBurst <= 0 || c.GlobalRatePerSecond <= 0 {
		return errors.New("config: global rate limits must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s%s must be positive", envPrefix, key)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}
