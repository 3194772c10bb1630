package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/auth"
)

// ErrProjectNotFound is returned by ProjectLookup when the project does not exist.
var ErrProjectNotFound = errors.New("project not found")

// ProjectLookup resolves the owning tenant of a project, so the middleware
// can verify it matches the authenticated identity before trusting a
// caller-supplied project id.
type ProjectLookup interface {
	TenantIDForProject(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// Middleware resolves the project id from the X-Project-ID header (or a
// "projectID" path parameter, set by Resolver), verifies it belongs to the
// authenticated tenant, and stores the resulting Scope in the context. It
// must run after auth.Middleware.
func Middleware(lookup ProjectLookup, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.FromContext(r.Context())
			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			projectIDStr, err := resolver.Resolve(r)
			if err != nil {
				respondErr(w, http.StatusBadRequest, "bad_request", err.Error())
				return
			}
			projectID, err := uuid.Parse(projectIDStr)
			if err != nil {
				respondErr(w, http.StatusBadRequest, "bad_request", "invalid project id")
				return
			}

			ownerTenantID, err := lookup.TenantIDForProject(r.Context(), projectID)
			if errors.Is(err, ErrProjectNotFound) {
				respondErr(w, http.StatusNotFound, "not_found", "project not found")
				return
			}
			if err != nil {
				logger.Error("resolving project tenant", "project_id", projectID, "error", err)
				respondErr(w, http.StatusInternalServerError, "internal_error", "resolving project")
				return
			}
			if ownerTenantID != identity.TenantID {
				respondErr(w, http.StatusForbidden, "forbidden", "project does not belong to the authenticated tenant")
				return
			}

			scope := Scope{TenantID: identity.TenantID, ProjectID: projectID}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), scope)))
		})
	}
}

// Resolver extracts the caller-supplied project id from the request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// HeaderResolver resolves the project id from the X-Project-ID header.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	id := r.Header.Get("X-Project-ID")
	if id == "" {
		return "", errors.New("missing X-Project-ID header")
	}
	return id, nil
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errStr, "message": message})
}
