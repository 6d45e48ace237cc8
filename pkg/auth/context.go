package auth

import (
	"context"
)

type contextKey int

const identityKey contextKey = iota

// ContextWithIdentity returns a copy of ctx carrying identity. The HTTP
// middleware and gRPC interceptors call it after a successful validation.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored in ctx, if any.
//
//	identity, ok := auth.IdentityFromContext(ctx)
//	if !ok {
//	    return sserr.Unauthorized("no identity in context")
//	}
//	slog.InfoContext(ctx, "request", "subject", identity.Subject())
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// MustIdentityFromContext is like [IdentityFromContext] but panics when no
// identity is present. Use it only behind the authentication middleware.
func MustIdentityFromContext(ctx context.Context) Identity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure authentication middleware is configured")
	}
	return identity
}
