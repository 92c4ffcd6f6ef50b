package tenantauth

import "fmt"

// Predicate returns a SQL fragment and argument to append to a WHERE clause
// so the caller only ever observes rows in their own organization, unless
// they are a super-admin. paramIndex is the 1-based $N placeholder to use.
//
// Callers that accept an explicit organization filter from the request MUST
// reject (ErrForbidden) a filter that does not match ctx's own org unless
// ctx.IsSuperAdmin — see RequireSameOrg.
func (c Context) Predicate(paramIndex int) (clause string, arg any, applies bool) {
	orgID, unrestricted := c.ScopeOrganization()
	if unrestricted {
		return "", nil, false
	}
	return fmt.Sprintf("organization_id = $%d", paramIndex), orgID, true
}

// RequireSameOrg rejects an explicit org filter that does not match the
// caller's own organization, unless the caller is super-admin. Note
// this returns ErrForbidden rather than leaking whether the requested org
// exists.
func (c Context) RequireSameOrg(requestedOrgID string) error {
	if c.IsSuperAdmin {
		return nil
	}
	if requestedOrgID != c.OrganizationID {
		return ErrForbidden
	}
	return nil
}
