// Package ratelimit implements fixed-window admission control applied
// to every inbound request before any downstream work.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"mangamirror/config"
	"mangamirror/log"
)

// rejectionBody is the machine-readable body sent with every 429.
var rejectionBody = map[string]string{
	"error": "Too many requests, please try again later.",
}

// Limiter counts requests per client identity within fixed windows.
//
// A window is reset, not destroyed, when it lapses; windows of
// identities that stop sending requests linger until process restart.
// That staleness wastes a little memory but never admits excess
// requests.
type Limiter struct {
	window      time.Duration
	maxRequests uint32

	// OnReject, if set, is invoked for every rejected request.
	// Used to feed rejection metrics without importing them here.
	OnReject func()

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count uint32
}

// New returns a limiter allowing maxRequests per identity within each
// window. A zero maxRequests disables limiting.
func New(cfg config.RateLimit) *Limiter {
	return &Limiter{
		window:      time.Duration(cfg.Window),
		maxRequests: cfg.MaxRequests,
		windows:     make(map[string]*window),
	}
}

// Allow reports whether a request from the given identity may proceed.
// When the request is rejected, retryAfter tells how long until the
// active window rolls over.
func (l *Limiter) Allow(identity string) (ok bool, retryAfter time.Duration) {
	if l.maxRequests == 0 {
		return true, 0
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[identity]
	if w == nil {
		w = &window{start: now}
		l.windows[identity] = w
	}
	if now.Sub(w.start) >= l.window {
		w.start = now
		w.count = 0
	}
	if w.count >= l.maxRequests {
		return false, w.start.Add(l.window).Sub(now)
	}
	w.count++
	return true, 0
}

// Identities returns the number of tracked client identities.
func (l *Limiter) Identities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Middleware wraps next with admission control keyed by the request's
// client address. Rejected requests get a 429 with a Retry-After hint
// and never reach next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		identity := clientIdentity(r)
		ok, retryAfter := l.Allow(identity)
		if !ok {
			log.Debugf("ratelimit: rejecting %q for %v", identity, retryAfter)
			if l.OnReject != nil {
				l.OnReject()
			}
			rw.Header().Set("Content-Type", "application/json")
			rw.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
			rw.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(rw).Encode(rejectionBody)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// clientIdentity keys the window by the address host. RemoteAddr has
// already been rewritten by the real-IP middleware when the service
// runs behind a reverse proxy.
func clientIdentity(r *http.Request) string {
	h, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return h
}
