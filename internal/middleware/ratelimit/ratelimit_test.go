package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(perMinute int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	rl := NewLimiter(Config{RequestsPerMinute: perMinute, CleanupInterval: time.Hour})
	rl.now = clock.now
	return rl, clock
}

func TestLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.1.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.1.1.1") {
		t.Fatal("4th request in the window should be rejected")
	}
	if !rl.Allow("2.2.2.2") {
		t.Fatal("other clients have their own budget")
	}

	clock.t = clock.t.Add(time.Minute)
	if !rl.Allow("1.1.1.1") {
		t.Fatal("new window should reset the budget")
	}
}

func TestLimiter_WindowDoesNotSlideOnRejectedRequests(t *testing.T) {
	rl, clock := newTestLimiter(1)
	defer rl.Stop()

	rl.Allow("ip")
	for i := 0; i < 5; i++ {
		clock.t = clock.t.Add(10 * time.Second)
		rl.Allow("ip")
	}
	clock.t = clock.t.Add(10 * time.Second)
	if !rl.Allow("ip") {
		t.Fatal("window started a minute ago, request should pass")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(10)
	defer rl.Stop()

	rl.Allow("a")
	clock.t = clock.t.Add(5 * time.Minute)
	rl.Allow("b")
	clock.t = clock.t.Add(6 * time.Minute)

	if n := rl.cleanupStaleEntries(); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if rl.ActiveClients() != 1 {
		t.Fatalf("active clients = %d, want 1", rl.ActiveClients())
	}
}

func TestLimiter_MiddlewareOnlyLimitsMutations(t *testing.T) {
	rl, _ := newTestLimiter(1)
	defer rl.Stop()
	rl.Stop() // idempotent

	h := rl.Middleware(func(*http.Request) string { return "ip" }, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/api/records", nil))
		return rec
	}

	for i := 0; i < 5; i++ {
		if rec := do(http.MethodGet); rec.Code != http.StatusNoContent {
			t.Fatalf("GET %d: status %d", i, rec.Code)
		}
	}
	if rec := do(http.MethodPost); rec.Code != http.StatusNoContent {
		t.Fatalf("first POST: status %d", rec.Code)
	}
	rec := do(http.MethodDelete)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second mutation: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatal("expected Retry-After header")
	}
}
