package server

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddlewareUsesDefaults(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/gifts", nil)

	middleware := securityHeadersMiddleware(SecurityConfig{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	middleware.ServeHTTP(rec, req)

	res := rec.Result()
	assertHeaderEquals(t, res, "Content-Security-Policy", defaultContentSecurityPolicy)
	assertHeaderEquals(t, res, "X-Frame-Options", defaultFrameOptions)
	assertHeaderEquals(t, res, "X-Content-Type-Options", defaultContentTypeOptions)
	assertHeaderEquals(t, res, "Referrer-Policy", defaultReferrerPolicy)
	assertHeaderEquals(t, res, "Cache-Control", defaultCacheControl)
	assertHeaderEquals(t, res, "Strict-Transport-Security", "")
}

func TestSecurityHeadersCanBeOverridden(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/gifts", nil)
	req.TLS = &tls.ConnectionState{}

	cfg := SecurityConfig{
		ContentSecurityPolicy:   "default-src 'self'",
		FrameOptions:            "SAMEORIGIN",
		ReferrerPolicy:          "strict-origin-when-cross-origin",
		StrictTransportSecurity: "max-age=63072000",
	}
	middleware := securityHeadersMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	middleware.ServeHTTP(rec, req)

	res := rec.Result()
	assertHeaderEquals(t, res, "Content-Security-Policy", cfg.ContentSecurityPolicy)
	assertHeaderEquals(t, res, "X-Frame-Options", cfg.FrameOptions)
	assertHeaderEquals(t, res, "Referrer-Policy", cfg.ReferrerPolicy)
	assertHeaderEquals(t, res, "Strict-Transport-Security", cfg.StrictTransportSecurity)
}

func TestServerAppliesSecurityHeadersToEveryRoute(t *testing.T) {
	ts := newTestServer(t)
	router := ts.router(Config{})

	for _, target := range []string{"/healthz", "/api/gifts", "/api/wallet/balance", "/missing"} {
		rec := serve(router, http.MethodGet, target, "", "")
		assertHeaderEquals(t, rec.Result(), "X-Frame-Options", defaultFrameOptions)
		assertHeaderEquals(t, rec.Result(), "X-Content-Type-Options", defaultContentTypeOptions)
	}

	rec := serve(router, http.MethodGet, "/metrics", "", "")
	assertHeaderEquals(t, rec.Result(), "Cache-Control", "")
}

func assertHeaderEquals(t *testing.T, res *http.Response, header, expected string) {
	t.Helper()
	if got := res.Header.Get(header); got != expected {
		t.Fatalf("expected %s header %q, got %q", header, expected, got)
	}
}
