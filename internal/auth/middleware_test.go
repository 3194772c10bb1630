package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

func signToken(t *testing.T, secret string, claims Claims, expiry time.Time) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	registered := jwt.Claims{
		Subject: claims.Subject,
		Issuer:  "supercheck",
		Expiry:  jwt.NewNumericDate(expiry),
	}
	raw, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return raw
}

func TestMiddleware_NoAuth(t *testing.T) {
	mw := Middleware(nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_DevHeader(t *testing.T) {
	mw := Middleware(nil)

	var got *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tenantID := uuid.New()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Tenant-ID", tenantID.String())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got == nil || got.TenantID != tenantID || got.Method != MethodDev {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestMiddleware_BearerToken(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	verifier, err := NewTokenVerifier(secret)
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	mw := Middleware(verifier)

	tenantID := uuid.New()
	token := signToken(t, secret, Claims{Subject: "acme-ci", Role: RoleEngineer, TenantID: tenantID.String()}, time.Now().Add(time.Hour))

	var got *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got == nil || got.TenantID != tenantID || got.Role != RoleEngineer {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestMiddleware_BearerToken_Expired(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	verifier, _ := NewTokenVerifier(secret)
	mw := Middleware(verifier)

	token := signToken(t, secret, Claims{Subject: "acme-ci", Role: RoleEngineer, TenantID: uuid.New().String()}, time.Now().Add(-time.Hour))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequireMinRole(t *testing.T) {
	cases := []struct {
		name     string
		role     string
		minRole  string
		wantCode int
	}{
		{"admin passes engineer gate", RoleAdmin, RoleEngineer, http.StatusOK},
		{"viewer fails engineer gate", RoleViewer, RoleEngineer, http.StatusForbidden},
		{"engineer passes engineer gate", RoleEngineer, RoleEngineer, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := RequireMinRole(tc.minRole)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := NewContext(r.Context(), &Identity{Role: tc.role, TenantID: uuid.New()})
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r.WithContext(ctx))

			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tc.wantCode)
			}
		})
	}
}
