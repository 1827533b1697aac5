package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 2})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path, remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("/admin/data", "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := do("/admin/data", "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("over-budget status = %d, want 429", code)
	}

	// Other clients have their own budget.
	if code := do("/admin/data", "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("fresh client status = %d, want 200", code)
	}

	// The webhook and health paths bypass the IP bucket entirely.
	for i := 0; i < 5; i++ {
		if code := do("/callback", "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("callback %d status = %d, want 200", i, code)
		}
		if code := do("/healthz", "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("healthz %d status = %d, want 200", i, code)
		}
	}
}

func TestRateLimiterForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/data", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("203.0.113.5, 10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first request status = %d", code)
	}
	if code := do("203.0.113.5, 10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", code)
	}
	if code := do("203.0.113.9"); code != http.StatusOK {
		t.Fatalf("different forwarded client status = %d, want 200", code)
	}
}

func TestAllowOwner(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{OwnerPerMinute: 60, OwnerBurst: 2})

	for i := 0; i < 2; i++ {
		if !limiter.AllowOwner("U1") {
			t.Fatalf("request %d should fit the burst", i)
		}
	}
	if limiter.AllowOwner("U1") {
		t.Fatal("over-budget owner should be throttled")
	}
	if !limiter.AllowOwner("U2") {
		t.Fatal("other owners keep their own budget")
	}
	// An empty owner id never throttles; there is nothing to key on.
	if !limiter.AllowOwner("") {
		t.Fatal("empty owner id should pass")
	}
}
