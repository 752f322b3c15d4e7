package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"comprobantes.org/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAdministratorAllowsAdministrator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithSession(req.Context(), auth.Session{UserID: 1, Role: auth.RoleAdministrator}))

	rr := httptest.NewRecorder()
	RequireAdministrator(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireAdministratorRejectsRegular(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithSession(req.Context(), auth.Session{UserID: 2, Role: auth.RoleRegular}))

	rr := httptest.NewRecorder()
	RequireAdministrator(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireAdministratorRejectsMissingSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	RequireAdministrator(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"Bearer":        false,
		"Bearer   ":     false,
		"Basic abc":     false,
		"Bearer abc":    true,
		"bearer abc":    true,
		"  Bearer abc ": true,
	}
	for header, ok := range cases {
		token, err := extractBearerToken(header)
		if ok && (err != nil || token != "abc") {
			t.Fatalf("header %q: got %q, %v", header, token, err)
		}
		if !ok && err == nil {
			t.Fatalf("header %q: expected error", header)
		}
	}
}
