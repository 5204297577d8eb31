package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity means the request did not pass through RequireAccessToken.
var ErrNoIdentity = errors.New("no authenticated identity in context")

// Identity is the caller a verified access token speaks for.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller, or ErrNoIdentity when none was attached.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// UserID is the wallet owner for user routes and the actor for admin routes.
func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.UserID, err
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err == nil && id.Role == "" {
		err = ErrNoIdentity
	}
	return id.Role, err
}
