package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/users/12":                       "/v1/users/:id",
		"/v1/companies/3?x=1":                "/v1/companies/:id",
		"/permission-model/grants/7/31":      "/permission-model/grants/:id/:id",
		"/permission-model/access/7/31":      "/permission-model/access/:id/:id",
		"/v1/comprobantes":                   "/v1/comprobantes",
		"/v1/comprobantes?page=2&perPage=10": "/v1/comprobantes",
		"/v1/users/abc":                      "/v1/users/abc",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/users/99", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/:id", "418"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, after)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	SetReady(true)
	if got := testutil.ToFloat64(readiness); got != 1 {
		t.Fatalf("readiness=%v, want 1", got)
	}
	SetReady(false)
	if got := testutil.ToFloat64(readiness); got != 0 {
		t.Fatalf("readiness=%v, want 0", got)
	}
}
