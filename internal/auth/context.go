package auth

import "context"

type contextKey string

const contextKeyIdentity contextKey = "auth.identity"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Subject string
	Role    Role
	// Zones lists the zones the caller may observe. Admins are not restricted.
	Zones []int64
}

// HasZone reports whether the identity may observe zoneID.
func (i Identity) HasZone(zoneID int64) bool {
	if i.Role == RoleAdmin {
		return true
	}
	for _, z := range i.Zones {
		if z == zoneID {
			return true
		}
	}
	return false
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext extracts the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	identity, _ := IdentityFromContext(ctx)
	return identity.Role
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.Subject
}
