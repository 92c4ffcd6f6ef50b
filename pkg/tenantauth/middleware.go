package tenantauth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims expected on an inbound bearer token. Token
// issuance itself (Keycloak/JWT minting) is an external collaborator; this
// package only validates and extracts.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
	IsSuperAdmin   bool   `json:"is_super_admin"`
	Email          string `json:"email"`
}

// KeyFunc resolves the signing key for a token, kept behind a function
// so key rotation can be swapped in without touching the middleware.
type KeyFunc func(*jwt.Token) (any, error)

// Validator validates bearer tokens and extracts claims.
type Validator struct {
	KeyFunc KeyFunc
}

func NewValidator(kf KeyFunc) *Validator {
	return &Validator{KeyFunc: kf}
}

func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.KeyFunc == nil {
		return nil, fmt.Errorf("tenantauth: validator not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, jwt.Keyfunc(v.KeyFunc))
	if err != nil {
		return nil, fmt.Errorf("tenantauth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("tenantauth: invalid token")
	}
	return claims, nil
}

// Middleware authenticates the bearer token and injects a Context derived
// from its claims. It fails closed: a missing validator rejects every
// request rather than silently admitting unauthenticated traffic.
func Middleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthenticated(w, "missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthenticated(w, "expected 'Bearer <token>'")
				return
			}
			if v == nil {
				writeUnauthenticated(w, "authentication not configured")
				return
			}
			claims, err := v.Validate(parts[1])
			if err != nil {
				writeUnauthenticated(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" || claims.OrganizationID == "" {
				writeUnauthenticated(w, "token missing subject or org binding")
				return
			}
			ac := Context{
				UserID:         claims.Subject,
				OrganizationID: claims.OrganizationID,
				Role:           ParseRole(claims.Role),
				IsSuperAdmin:   claims.IsSuperAdmin,
				Email:          claims.Email,
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":"unauthenticated","message":%q}`, msg)
}
