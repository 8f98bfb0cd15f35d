// Package tenantctx carries the acting tenant and user through a worker
// invocation. Workers are reused across tenants, so this state is always
// derived from the claimed job itself and never inherited from the caller.
package tenantctx

import "context"

type contextKey struct{}

// Scope identifies who a worker is acting for.
type Scope struct {
	TenantID string
	Actor    string
}

// With returns a context bound to the given tenant and acting user,
// replacing any scope already present.
func With(ctx context.Context, tenantID, actor string) context.Context {
	return context.WithValue(ctx, contextKey{}, Scope{TenantID: tenantID, Actor: actor})
}

// From extracts the scope established by With.
func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(contextKey{}).(Scope)
	return s, ok
}
