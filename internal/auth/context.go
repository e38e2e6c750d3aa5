package auth

import "context"

type principalContextKey struct{}
type impersonationContextKey struct{}
type tokenContextKey struct{}

// Impersonation carries the original identity behind an impersonated request.
type Impersonation struct {
	ImpersonatorID string
	SessionID      string
}

// ContextWithPrincipal attaches the effective principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the effective principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithImpersonation records that the request runs under an
// impersonation session.
func ContextWithImpersonation(ctx context.Context, imp Impersonation) context.Context {
	if imp.ImpersonatorID == "" || imp.SessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, impersonationContextKey{}, &imp)
}

// ImpersonationFromContext returns the impersonation record if the request
// is running as somebody else.
func ImpersonationFromContext(ctx context.Context) (Impersonation, bool) {
	if ctx == nil {
		return Impersonation{}, false
	}
	v, ok := ctx.Value(impersonationContextKey{}).(*Impersonation)
	if !ok || v == nil {
		return Impersonation{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
