// Package middleware holds the HTTP middleware applied to every
// inbound request.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"mangamirror/config"
)

const (
	xForwardedForHeader = "X-Forwarded-For"
	xRealIPHeader       = "X-Real-Ip"
	forwardedHeader     = "Forwarded"
)

// ProxyMiddleware rewrites RemoteAddr to the real client address when
// the service runs behind a configured number of reverse proxy hops.
// Identity spoofing via forged headers is not defended against beyond
// the hop count.
type ProxyMiddleware struct {
	proxy config.Proxy

	next http.Handler
}

func NewProxyMiddleware(proxy config.Proxy, next http.Handler) *ProxyMiddleware {
	return &ProxyMiddleware{
		proxy: proxy,
		next:  next,
	}
}

func (m *ProxyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.RemoteAddr = m.getIP(r)
	m.next.ServeHTTP(w, r)
}

func (m *ProxyMiddleware) getIP(r *http.Request) string {
	if !m.proxy.Enable {
		return r.RemoteAddr
	}

	var addr string
	if m.proxy.Header != "" {
		addr = r.Header.Get(m.proxy.Header)
	} else {
		addr = m.parseDefaultProxyHeaders(r)
	}

	if isValidAddr(addr) {
		return addr
	}
	return r.RemoteAddr
}

func (m *ProxyMiddleware) parseDefaultProxyHeaders(r *http.Request) string {
	var addr string

	if fwd := r.Header.Get(xForwardedForHeader); fwd != "" {
		addr = m.pickForwardedEntry(fwd)
	} else if fwd := r.Header.Get(xRealIPHeader); fwd != "" {
		addr = strings.TrimSpace(fwd)
	} else if fwd := r.Header.Get(forwardedHeader); fwd != "" {
		// See: https://tools.ietf.org/html/rfc7239.
		addr = parseForwardedHeader(fwd)
	}

	return addr
}

// pickForwardedEntry returns the X-Forwarded-For entry appended by the
// outermost trusted proxy. Every hop appends its caller's address, so
// with N trusted hops the real client is the N-th entry from the end.
// Entries beyond that are client-controlled and must not be trusted.
func (m *ProxyMiddleware) pickForwardedEntry(ipList string) string {
	entries := strings.Split(ipList, ",")
	idx := len(entries) - m.proxy.TrustedHops
	if idx < 0 {
		idx = 0
	}
	return strings.TrimSpace(entries[idx])
}

func parseForwardedHeader(fwd string) string {
	splits := strings.Split(fwd, ";")
	if len(splits) == 0 {
		return ""
	}

	for _, split := range splits {
		trimmed := strings.TrimSpace(split)
		if strings.HasPrefix(strings.ToLower(trimmed), "for=") {
			forSplits := strings.Split(trimmed, ",")
			if len(forSplits) == 0 {
				return ""
			}

			addr := forSplits[0][4:]
			return strings.Trim(addr, `"`)
		}
	}

	return ""
}

// isValidAddr checks if the addr is a valid IP or IP:port.
func isValidAddr(addr string) bool {
	if addr == "" {
		return false
	}

	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.ParseIP(addr) != nil
	}

	return net.ParseIP(ip) != nil
}
