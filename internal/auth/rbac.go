package auth

import "net/http"

var roleLevel = map[string]int{
	RoleAdmin:    30,
	RoleEngineer: 20,
	RoleViewer:   10,
}

// RequireAuth rejects requests with no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMinRole rejects requests whose identity has a lower privilege level
// than minRole (admin > engineer > viewer).
func RequireMinRole(minRole string) func(http.Handler) http.Handler {
	minLevel := roleLevel[minRole]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				respondErr(w, http.StatusForbidden, "forbidden", "authentication required")
				return
			}
			if roleLevel[id.Role] < minLevel {
				respondErr(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
