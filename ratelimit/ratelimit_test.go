package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mangamirror/config"
)

func TestAllowCeiling(t *testing.T) {
	l := New(config.RateLimit{
		Window:      config.Duration(time.Minute),
		MaxRequests: 3,
	})

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d must be allowed", i+1)
		}
	}

	ok, retryAfter := l.Allow("1.2.3.4")
	if ok {
		t.Fatalf("request over the ceiling must be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retryAfter: %v", retryAfter)
	}

	// A different identity is unaffected.
	if ok, _ := l.Allow("5.6.7.8"); !ok {
		t.Fatalf("other identity must be allowed")
	}
}

func TestWindowRollover(t *testing.T) {
	l := New(config.RateLimit{
		Window:      config.Duration(30 * time.Millisecond),
		MaxRequests: 1,
	})

	if ok, _ := l.Allow("1.2.3.4"); !ok {
		t.Fatalf("first request must be allowed")
	}
	if ok, _ := l.Allow("1.2.3.4"); ok {
		t.Fatalf("second request in the window must be rejected")
	}

	time.Sleep(50 * time.Millisecond)

	if ok, _ := l.Allow("1.2.3.4"); !ok {
		t.Fatalf("request after window rollover must be allowed")
	}
}

func TestDisabled(t *testing.T) {
	l := New(config.RateLimit{
		Window:      config.Duration(time.Minute),
		MaxRequests: 0,
	})

	for i := 0; i < 1000; i++ {
		if ok, _ := l.Allow("1.2.3.4"); !ok {
			t.Fatalf("disabled limiter must allow everything")
		}
	}
}

func TestIdentitiesAccumulate(t *testing.T) {
	l := New(config.RateLimit{
		Window:      config.Duration(time.Minute),
		MaxRequests: 10,
	})

	l.Allow("1.1.1.1")
	l.Allow("2.2.2.2")
	l.Allow("1.1.1.1")

	if n := l.Identities(); n != 2 {
		t.Fatalf("unexpected identities count: %d", n)
	}
}

func TestMiddleware(t *testing.T) {
	l := New(config.RateLimit{
		Window:      config.Duration(time.Minute),
		MaxRequests: 2,
	})

	var rejected int
	l.OnReject = func() { rejected++ }

	var handled int
	h := l.Middleware(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		handled++
		rw.WriteHeader(http.StatusOK)
	}))

	doRequest := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/api/latest", nil)
		r.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := doRequest("10.0.0.1:5555"); rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	}

	rec := doRequest("10.0.0.1:6666")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d; expecting 429", rec.Code)
	}
	if handled != 2 {
		t.Fatalf("rejected request must not reach the handler; handled=%d", handled)
	}
	if rejected != 1 {
		t.Fatalf("unexpected OnReject invocations: %d; expecting 1", rejected)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("cannot decode rejection body: %s", err)
	}
	if body["error"] != "Too many requests, please try again later." {
		t.Fatalf("unexpected rejection body: %v", body)
	}
}

func TestMiddlewareKeysByHost(t *testing.T) {
	// Ports differ between requests of the same client; the window
	// must be keyed by host only.
	l := New(config.RateLimit{
		Window:      config.Duration(time.Minute),
		MaxRequests: 1,
	})

	h := l.Middleware(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {}))

	r1 := httptest.NewRequest("GET", "/", nil)
	r1.RemoteAddr = "10.0.0.1:1111"
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, r1)

	r2 := httptest.NewRequest("GET", "/", nil)
	r2.RemoteAddr = "10.0.0.1:2222"
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, r2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d; expecting 429", rec2.Code)
	}
}
