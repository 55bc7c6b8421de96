package auth

import (
	"context"
	"errors"

	"github.com/oralhistory/backend/internal/models"
)

var (
	// ErrUnauthenticated indicates the caller did not present valid credentials.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden indicates the caller may not act on the resource.
	ErrForbidden = errors.New("forbidden")
)

// Principal is the authenticated caller of a request. Protected handlers
// receive it as an explicit argument.
type Principal struct {
	UserID string
	Role   models.Role
}

// IsAdmin reports whether the principal holds the administrator role.
func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

// Authenticated reports whether the principal identifies a user.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

type principalKey struct{}

// WithPrincipal stores p for the handler adapters that unpack it.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the authentication middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Authenticated()
}

// RequireUser returns ErrUnauthenticated for anonymous principals.
func (p Principal) RequireUser() error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin returns ErrUnauthenticated or ErrForbidden unless p is an administrator.
func (p Principal) RequireAdmin() error {
	if err := p.RequireUser(); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
