package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer              = "secureadmin"
	defaultAccessTTL           = time.Hour
	defaultMaxImpersonationTTL = time.Hour

	tokenTypeAccess        = "access"
	tokenTypeImpersonation = "impersonation"
)

// Claims is the signed payload of both access and impersonation tokens.
type Claims struct {
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"token_type"`

	ImpersonatorID     string `json:"impersonator_id,omitempty"`
	ImpersonatedUserID string `json:"impersonated_user_id,omitempty"`
	SessionID          string `json:"session_id,omitempty"`
	IsImpersonation    bool   `json:"is_impersonation,omitempty"`

	jwt.RegisteredClaims
}

// IsImpersonationToken reports whether the claims describe an impersonation
// token.
func (c *Claims) IsImpersonationToken() bool {
	return c.TokenType == tokenTypeImpersonation
}

// Principal reconstructs the effective principal the token speaks for. For
// impersonation tokens that is the impersonated user.
func (c *Claims) Principal() Principal {
	return Principal{
		ID:     c.Subject,
		Email:  c.Email,
		Role:   Role(c.Role),
		Status: StatusActive,
	}
}

// TokenService issues and verifies stateless bearer tokens signed with the
// SecretStore's current secret (HS256).
type TokenService struct {
	secrets *SecretStore

	issuer              string
	accessTTL           time.Duration
	maxImpersonationTTL time.Duration
	now                 func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithMaxImpersonationTTL caps impersonation token lifetimes.
func WithMaxImpersonationTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.maxImpersonationTTL = ttl
		}
	}
}

// WithTokenClock overrides the time source, for tests.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService builds a TokenService over the given SecretStore.
func NewTokenService(secrets *SecretStore, opts ...TokenOption) (*TokenService, error) {
	if secrets == nil {
		return nil, errors.New("auth: secret store is required")
	}
	s := &TokenService{
		secrets:             secrets,
		issuer:              defaultIssuer,
		accessTTL:           defaultAccessTTL,
		maxImpersonationTTL: defaultMaxImpersonationTTL,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxImpersonationTTL > s.accessTTL {
		return nil, errors.New("auth: impersonation ttl cap must not exceed access ttl")
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// MaxImpersonationTTL returns the impersonation lifetime cap.
func (s *TokenService) MaxImpersonationTTL() time.Duration { return s.maxImpersonationTTL }

// Issue signs an access token for the principal.
func (s *TokenService) Issue(p Principal) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	if !p.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.Role)
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Role:      p.Role.String(),
		Email:     p.Email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// IssueImpersonation signs a token that lets impersonatorID act as target,
// bound to the given session. The requested ttl must stay at or under the
// configured cap.
func (s *TokenService) IssueImpersonation(target Principal, impersonatorID, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(target.ID) == "" || strings.TrimSpace(impersonatorID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: target, impersonator and session ids are required", ErrInvalidInput)
	}
	if !target.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, target.Role)
	}
	if ttl <= 0 {
		ttl = s.maxImpersonationTTL
	}
	if ttl > s.maxImpersonationTTL {
		return "", time.Time{}, fmt.Errorf("%w: impersonation ttl %s exceeds cap %s", ErrInvalidInput, ttl, s.maxImpersonationTTL)
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role:               target.Role.String(),
		Email:              target.Email,
		TokenType:          tokenTypeImpersonation,
		ImpersonatorID:     impersonatorID,
		ImpersonatedUserID: target.ID,
		SessionID:          sessionID,
		IsImpersonation:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   target.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (s *TokenService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secrets.Current().Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token against the current secret first, then the retired
// one, so in-flight tokens survive a single rotation. Failures map onto
// ErrTokenExpired, ErrTokenMalformed and ErrTokenInvalid.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}
	for _, ver := range s.secrets.Verifiers() {
		secret := ver.Secret
		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrTokenInvalid
			}
			return secret, nil
		}, jwt.WithTimeFunc(s.now))
		if err == nil && parsed.Valid {
			if err := s.validateClaims(claims); err != nil {
				return nil, err
			}
			return claims, nil
		}
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		}
		// Signature mismatch: fall through to the next verifier.
	}
	return nil, ErrTokenInvalid
}

func (s *TokenService) validateClaims(claims *Claims) error {
	if claims.Issuer != s.issuer {
		return ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return ErrTokenMalformed
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return ErrTokenMalformed
	}
	if !Role(claims.Role).Valid() {
		return ErrTokenMalformed
	}
	switch claims.TokenType {
	case tokenTypeAccess:
	case tokenTypeImpersonation:
		if !claims.IsImpersonation ||
			strings.TrimSpace(claims.ImpersonatorID) == "" ||
			strings.TrimSpace(claims.ImpersonatedUserID) == "" ||
			strings.TrimSpace(claims.SessionID) == "" {
			return ErrTokenMalformed
		}
	default:
		return ErrTokenMalformed
	}
	return nil
}
