package auth

import (
	"context"

	"github.com/vaidashi/storefront-api/internal/models"
)

type contextKey struct{}

// Principal is the authenticated caller attached to a request
type Principal struct {
	UserID   int64
	Username string
	Role     models.Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
