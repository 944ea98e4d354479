package rbac

import (
	"context"
	"errors"

	userdomain "edu-platform/auth/internal/user/domain"
)

var (
	// ErrUnauthenticated means no principal is present in the context.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the principal's role is not in the allow-list.
	ErrForbidden = errors.New("insufficient role")
)

// Require returns the principal in ctx if its role is in allowed. An empty allow-list
// admits any authenticated principal.
func Require(ctx context.Context, allowed userdomain.RoleSet) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if !allowed.Empty() && !allowed.Contains(p.Role) {
		return p, ErrForbidden
	}
	return p, nil
}
