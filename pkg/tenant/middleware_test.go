package tenant

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/auth"
)

func TestHeaderResolver_Resolve(t *testing.T) {
	resolver := HeaderResolver{}

	t.Run("returns id from header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Project-ID", "proj-1")

		id, err := resolver.Resolve(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "proj-1" {
			t.Errorf("id = %q, want %q", id, "proj-1")
		}
	})

	t.Run("returns error when header missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := resolver.Resolve(r); err == nil {
			t.Fatal("expected error for missing header")
		}
	})
}

type fakeLookup struct {
	tenantID uuid.UUID
	err      error
}

func (f fakeLookup) TenantIDForProject(context.Context, uuid.UUID) (uuid.UUID, error) {
	return f.tenantID, f.err
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tenantID := uuid.New()
	projectID := uuid.New()

	cases := []struct {
		name       string
		identity   *auth.Identity
		lookup     ProjectLookup
		projectHdr string
		wantCode   int
	}{
		{
			name:       "matching tenant scopes the request",
			identity:   &auth.Identity{TenantID: tenantID},
			lookup:     fakeLookup{tenantID: tenantID},
			projectHdr: projectID.String(),
			wantCode:   http.StatusOK,
		},
		{
			name:       "mismatched tenant is forbidden",
			identity:   &auth.Identity{TenantID: uuid.New()},
			lookup:     fakeLookup{tenantID: tenantID},
			projectHdr: projectID.String(),
			wantCode:   http.StatusForbidden,
		},
		{
			name:       "missing project not found",
			identity:   &auth.Identity{TenantID: tenantID},
			lookup:     fakeLookup{err: ErrProjectNotFound},
			projectHdr: projectID.String(),
			wantCode:   http.StatusNotFound,
		},
		{
			name:       "no identity is unauthorized",
			identity:   nil,
			lookup:     fakeLookup{tenantID: tenantID},
			projectHdr: projectID.String(),
			wantCode:   http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := Middleware(tc.lookup, HeaderResolver{}, logger)
			var gotScope Scope
			var gotOK bool
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotScope, gotOK = FromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("X-Project-ID", tc.projectHdr)
			if tc.identity != nil {
				r = r.WithContext(auth.NewContext(r.Context(), tc.identity))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCode == http.StatusOK {
				if !gotOK || gotScope.ProjectID != projectID || gotScope.TenantID != tenantID {
					t.Errorf("unexpected scope: %+v (ok=%v)", gotScope, gotOK)
				}
			}
		})
	}
}
