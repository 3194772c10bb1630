package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Middleware authenticates the caller via a pre-issued Bearer token, falling
// back to an X-Tenant-ID dev header for local runs where no
// verifier is configured. If neither succeeds, the request is rejected.
func Middleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				raw := strings.TrimSpace(authHeader[len("Bearer "):])
				if verifier == nil {
					respondErr(w, http.StatusUnauthorized, "unauthorized", "bearer auth is not configured")
					return
				}
				claims, err := verifier.Validate(raw)
				if err != nil {
					respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
				tenantID, err := uuid.Parse(claims.TenantID)
				if err != nil {
					respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid tenant claim")
					return
				}
				identity = &Identity{
					Subject:  claims.Subject,
					Role:     claims.Role,
					TenantID: tenantID,
					Method:   MethodBearer,
				}
			}

			if identity == nil && verifier == nil {
				if raw := r.Header.Get("X-Tenant-ID"); raw != "" {
					tenantID, err := uuid.Parse(raw)
					if err != nil {
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid X-Tenant-ID header")
						return
					}
					identity = &Identity{
						Subject:  "dev:anonymous",
						Role:     RoleAdmin,
						TenantID: tenantID,
						Method:   MethodDev,
					}
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
		})
	}
}
