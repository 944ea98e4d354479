// Package rbac carries the authenticated principal through a request and gates
// operations on its role.
package rbac

import (
	"context"

	userdomain "edu-platform/auth/internal/user/domain"
)

// Principal is the caller identified by a verified access token.
type Principal struct {
	UserID    string
	SessionID string
	Email     string
	Role      userdomain.Role
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal and true if set.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
