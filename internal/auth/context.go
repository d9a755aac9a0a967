package auth

import "context"

type principalContextKey struct{}
type identityContextKey struct{}
type signupContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
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

// ContextWithIdentity binds identityID for row-level security without a
// resolved principal, e.g. while that identity's own profile is looked up. It
// takes precedence over the principal.
func ContextWithIdentity(ctx context.Context, identityID string) context.Context {
	if identityID == "" {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identityID)
}

// IdentityIDFromContext returns the identity the caller acts as, if any.
func IdentityIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if id, ok := ctx.Value(identityContextKey{}).(string); ok && id != "" {
		return id, true
	}
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Identity.ID == "" {
		return "", false
	}
	return p.Identity.ID, true
}

// ContextForSignup marks work done while binding a new identity to its
// profile. Stores enable the signup row policies for it.
func ContextForSignup(ctx context.Context) context.Context {
	return context.WithValue(ctx, signupContextKey{}, true)
}

// SignupFromContext reports whether ContextForSignup marked ctx.
func SignupFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(signupContextKey{}).(bool)
	return v
}
