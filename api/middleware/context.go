package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/enums"
)

type identityKey struct{}

// Identity is the authenticated caller as read from the bearer token.
type Identity struct {
	UserID uuid.UUID
	Role   enums.Role
}

// WithIdentity stores the caller on the context. Auth is the only production
// writer; tests use it to skip token minting.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == uuid.Nil {
		return Identity{}, false
	}
	return id, true
}

// UserIDFromContext returns the caller id as a string, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}
