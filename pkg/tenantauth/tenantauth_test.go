package tenantauth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
)

func TestRoleOrderIsTotal(t *testing.T) {
	order := []tenantauth.Role{
		tenantauth.RoleAnalyst, tenantauth.RoleEngineer, tenantauth.RoleAdmin,
		tenantauth.RoleOwner, tenantauth.RoleSuperAdmin,
	}
	for i, lower := range order {
		for _, higher := range order[i:] {
			require.True(t, higher.Satisfies(lower), "%s must satisfy %s", higher, lower)
		}
		if i > 0 {
			require.False(t, order[i-1].Satisfies(lower), "equal-or-above only")
		}
	}
}

func TestParseRole_UnknownClaimMapsToLowestRole(t *testing.T) {
	require.Equal(t, tenantauth.RoleAdmin, tenantauth.ParseRole("admin"))
	require.Equal(t, tenantauth.RoleAnalyst, tenantauth.ParseRole("root"))
	require.Equal(t, tenantauth.RoleAnalyst, tenantauth.ParseRole(""))
}

func TestRequireRole(t *testing.T) {
	engineer := tenantauth.Context{OrganizationID: "org-a", Role: tenantauth.RoleEngineer}
	require.NoError(t, engineer.RequireRole(tenantauth.RoleAnalyst))
	require.NoError(t, engineer.RequireRole(tenantauth.RoleEngineer))
	require.ErrorIs(t, engineer.RequireRole(tenantauth.RoleAdmin), tenantauth.ErrForbidden)

	super := tenantauth.Context{IsSuperAdmin: true}
	require.NoError(t, super.RequireRole(tenantauth.RoleOwner), "super-admin satisfies everything")
}

func TestPredicate_ScopesNonSuperAdmins(t *testing.T) {
	member := tenantauth.Context{OrganizationID: "org-a"}
	clause, arg, applies := member.Predicate(3)
	require.True(t, applies)
	require.Equal(t, "organization_id = $3", clause)
	require.Equal(t, "org-a", arg)

	super := tenantauth.Context{IsSuperAdmin: true}
	_, _, applies = super.Predicate(1)
	require.False(t, applies)
}

func TestRequireSameOrg(t *testing.T) {
	member := tenantauth.Context{OrganizationID: "org-a"}
	require.NoError(t, member.RequireSameOrg("org-a"))
	require.ErrorIs(t, member.RequireSameOrg("org-b"), tenantauth.ErrForbidden)

	super := tenantauth.Context{IsSuperAdmin: true}
	require.NoError(t, super.RequireSameOrg("org-b"))
}

func TestFromContext_AbsentIsUnauthenticated(t *testing.T) {
	_, err := tenantauth.FromContext(context.Background())
	require.ErrorIs(t, err, tenantauth.ErrUnauthenticated)
}

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims tenantauth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testKey)
	require.NoError(t, err)
	return signed
}

func testValidator() *tenantauth.Validator {
	return tenantauth.NewValidator(func(token *jwt.Token) (any, error) {
		return testKey, nil
	})
}

func testClaims() tenantauth.Claims {
	return tenantauth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrganizationID: "org-a",
		Role:           "engineer",
		Email:          "eng@example.com",
	}
}

func TestMiddleware_InjectsContextFromValidToken(t *testing.T) {
	var got tenantauth.Context
	handler := tenantauth.Middleware(testValidator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := tenantauth.FromContext(r.Context())
		require.NoError(t, err)
		got = ac
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/boms", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testClaims()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, "org-a", got.OrganizationID)
	require.Equal(t, tenantauth.RoleEngineer, got.Role)
	require.False(t, got.IsSuperAdmin)
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	handler := tenantauth.Middleware(testValidator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := map[string]func(*http.Request){
		"missing header":   func(r *http.Request) {},
		"not bearer":       func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
		"garbage token":    func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") },
		"expired token": func(r *http.Request) {
			claims := testClaims()
			claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			r.Header.Set("Authorization", "Bearer "+signToken(t, claims))
		},
		"missing org claim": func(r *http.Request) {
			claims := testClaims()
			claims.OrganizationID = ""
			r.Header.Set("Authorization", "Bearer "+signToken(t, claims))
		},
	}

	for name, mutate := range cases {
		req := httptest.NewRequest(http.MethodGet, "/boms", nil)
		mutate(req)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
}

func TestMiddleware_NilValidatorFailsClosed(t *testing.T) {
	handler := tenantauth.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/boms", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testClaims()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
