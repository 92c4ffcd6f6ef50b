package api

import (
	"net/http"

	"github.com/Mindburn-Labs/bomforge/core/pkg/ratelimit"
	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
)

// TenantRateLimitMiddleware enforces per-organization rate limiting at the
// HTTP layer, ahead of the per-supplier limits pkg/ratelimit also guards on
// the outbound side. The key is the authenticated organization id, falling
// back to the remote address for unauthenticated (public-path) requests.
func TenantRateLimitMiddleware(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := r.RemoteAddr
			if ac, err := tenantauth.FromContext(r.Context()); err == nil {
				key = "org:" + ac.OrganizationID
			}

			if err := limiter.Wait(r.Context(), key, 1); err != nil {
				WriteTooManyRequests(w, 1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
