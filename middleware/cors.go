package middleware

import "net/http"

// CORSMiddleware allows cross-origin access from any origin.
// The service is a public read-only aggregation API, so there is
// nothing to protect with a stricter policy.
type CORSMiddleware struct {
	next http.Handler
}

func NewCORSMiddleware(next http.Handler) *CORSMiddleware {
	return &CORSMiddleware{next: next}
}

func (m *CORSMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	m.next.ServeHTTP(w, r)
}
