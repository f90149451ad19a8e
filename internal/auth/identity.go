package auth

import (
	"context"
	"slices"
)

// Principal is the capability view over a stored user record.
// Each record shape that can back an identity implements it.
type Principal interface {
	SubjectID() string
	Authorities() []string
	// CredentialHash is consulted only by token validators for consistency
	// checks. It must never be logged.
	CredentialHash() string
}

// Identity represents an authenticated caller and the authorities granted to it.
type Identity struct {
	SubjectID   string    // email or user id the token was issued for
	Authorities []string  // e.g. ROLE_USER, ROLE_ADMIN
	Principal   Principal `json:"-"`
}

// NewIdentity builds an Identity from a resolved principal.
func NewIdentity(p Principal) *Identity {
	return &Identity{
		SubjectID:   p.SubjectID(),
		Authorities: slices.Clone(p.Authorities()),
		Principal:   p,
	}
}

// HasAuthority reports whether the identity was granted the named authority.
func (i *Identity) HasAuthority(name string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Authorities, name)
}

type contextKey struct{}

// AttachIdentity stores id in the context unless an identity is already
// attached. The returned bool is false when ctx is returned unchanged.
func AttachIdentity(ctx context.Context, id *Identity) (context.Context, bool) {
	if id == nil || IdentityFromContext(ctx) != nil {
		return ctx, false
	}
	return context.WithValue(ctx, contextKey{}, id), true
}

// IdentityFromContext retrieves the Identity from the context.
// Returns nil if the request is anonymous.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
