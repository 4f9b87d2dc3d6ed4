package user

import (
	"context"

	"github.com/alecgard/tokentrack/internal/auth"
)

// AuthAdapter adapts user.Store to the auth.UserLookup interface.
type AuthAdapter struct {
	store *Store
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given user store.
func NewAuthAdapter(store *Store) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// LookupUser returns the account behind a verified token subject.
func (a *AuthAdapter) LookupUser(ctx context.Context, id string) (*auth.User, error) {
	u, err := a.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToAuthUser(u), nil
}

// ToAuthUser converts a stored user into the identity carried in contexts.
func ToAuthUser(u *User) *auth.User {
	return &auth.User{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
}
