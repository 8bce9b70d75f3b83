package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity is returned when a request reached a handler without passing
// RequireAccessToken.
var ErrNoIdentity = errors.New("no identity in context")

// Identity is the caller behind an access token. For agents UserID is the
// CSR id the dispatch routes are keyed by; supervisors and super admins use
// their own operator id.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, Role: role})
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != "" && id.Role != ""
}

// UserID returns the caller's CSR id (agents) or operator id.
func UserID(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	return id.UserID, nil
}

func Role(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	return id.Role, nil
}
