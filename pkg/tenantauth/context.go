// Package tenantauth derives and carries (user_id, org_id, role,
// is_super_admin) from authenticated requests and enforces row-level
// tenant isolation on every read (spec invariant: every read of BOM,
// BOMLineItem, or EnrichmentEvent filters by organization_id unless the
// caller is super-admin).
package tenantauth

import (
	"context"
	"errors"
)

// Role is a total order: analyst < engineer < admin < owner < superAdmin.
type Role int

const (
	RoleAnalyst Role = iota
	RoleEngineer
	RoleAdmin
	RoleOwner
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleAnalyst:    "analyst",
	RoleEngineer:   "engineer",
	RoleAdmin:      "admin",
	RoleOwner:      "owner",
	RoleSuperAdmin: "super_admin",
}

func (r Role) String() string { return roleNames[r] }

// ParseRole maps a claim string onto the role order. Unknown values map to
// the lowest role so an unrecognized claim never grants elevated access.
func ParseRole(s string) Role {
	for r, name := range roleNames {
		if name == s {
			return r
		}
	}
	return RoleAnalyst
}

// Satisfies reports whether r meets or exceeds the minimum required role.
func (r Role) Satisfies(min Role) bool { return r >= min }

// Context is the immutable auth-context value every data-access helper in
// the core accepts.
type Context struct {
	UserID       string
	OrganizationID string
	Role         Role
	IsSuperAdmin bool
	Email        string
}

// RequireRole returns ErrForbidden if the context's role does not satisfy
// min.
func (c Context) RequireRole(min Role) error {
	if c.IsSuperAdmin {
		return nil
	}
	if !c.Role.Satisfies(min) {
		return ErrForbidden
	}
	return nil
}

// ScopeOrganization returns the organization id a query should filter by,
// and whether the caller is exempt from filtering (super-admin). A
// non-super-admin caller passing an explicit org filter that does not
// match their own org is rejected with ErrForbidden by the caller.
func (c Context) ScopeOrganization() (orgID string, unrestricted bool) {
	if c.IsSuperAdmin {
		return "", true
	}
	return c.OrganizationID, false
}

var (
	// ErrForbidden is returned when the caller's role is below the
	// operation's minimum, or an explicit org filter does not match the
	// caller's own org.
	ErrForbidden = errors.New("tenantauth: forbidden")
	// ErrUnauthenticated is returned when no context is present at all.
	ErrUnauthenticated = errors.New("tenantauth: unauthenticated")
)

type ctxKey struct{}

// WithContext attaches an auth Context to ctx.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext retrieves the auth Context, or ErrUnauthenticated if absent.
func FromContext(ctx context.Context) (Context, error) {
	ac, ok := ctx.Value(ctxKey{}).(Context)
	if !ok {
		return Context{}, ErrUnauthenticated
	}
	return ac, nil
}
