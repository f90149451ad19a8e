package auth

import (
	"context"
	"fmt"

	"github.com/hatemosphere/inventory-backend/internal/storage"
)

// IdentityProvider looks up the principal for a subject identifier.
// Implementations return ErrIdentityNotFound when no record matches.
type IdentityProvider interface {
	FindBySubject(ctx context.Context, subject string) (Principal, error)
}

// StoreProvider resolves principals from the user store, keyed by email.
type StoreProvider struct {
	store storage.UserStore
}

// NewStoreProvider creates a provider backed by the given user store.
func NewStoreProvider(store storage.UserStore) *StoreProvider {
	return &StoreProvider{store: store}
}

// FindBySubject implements IdentityProvider. Disabled accounts are reported
// as not found.
func (p *StoreProvider) FindBySubject(ctx context.Context, subject string) (Principal, error) {
	u, err := p.store.GetUserByEmail(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil || !u.Enabled {
		return nil, ErrIdentityNotFound
	}
	return userPrincipal{u: u}, nil
}

// userPrincipal adapts a storage.User to Principal.
type userPrincipal struct {
	u *storage.User
}

func (p userPrincipal) SubjectID() string      { return p.u.Email }
func (p userPrincipal) Authorities() []string  { return p.u.Roles }
func (p userPrincipal) CredentialHash() string { return p.u.PasswordHash }
