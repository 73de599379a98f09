package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	next := &testHandler{}
	m := NewCORSMiddleware(next)

	r := httptest.NewRequest("GET", "/api/latest", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, r)

	if next.timesCalled != 1 {
		t.Fatalf("next handler must be called")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin header: %q", got)
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	next := &testHandler{}
	m := NewCORSMiddleware(next)

	r := httptest.NewRequest("OPTIONS", "/api/latest", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, r)

	if next.timesCalled != 0 {
		t.Fatalf("preflight must not reach the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatalf("missing allow-methods header")
	}
}
