package httpserver

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/supercheck-io/supercheck/internal/auth"
)

// tenantRateLimiter gates a route per authenticated tenant, ahead of the
// admission controller's own Postgres-backed capacity check — a tenant
// hammering the submission endpoint should be rejected in-process rather
// than spend a database round trip on every attempt.
type tenantRateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

// newTenantRateLimiter builds a limiter allowing rps sustained requests per
// tenant with burst headroom.
func newTenantRateLimiter(rps float64, burst int) *tenantRateLimiter {
	return &tenantRateLimiter{rps: rate.Limit(rps), burst: burst, limiters: make(map[uuid.UUID]*rate.Limiter)}
}

func (l *tenantRateLimiter) forTenant(tenantID uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[tenantID] = lim
	}
	return lim
}

// Middleware rejects a request with 429 once a tenant exceeds its submission
// rate. It must run after auth.Middleware.
func (l *tenantRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.FromContext(r.Context())
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !l.forTenant(identity.TenantID).Allow() {
			RespondError(w, http.StatusTooManyRequests, "rate_limited", "submission rate limit exceeded for this tenant")
			return
		}
		next.ServeHTTP(w, r)
	})
}
