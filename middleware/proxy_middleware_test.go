package middleware

import (
	"net/http"
	"testing"

	"mangamirror/config"
)

type testHandler struct {
	timesCalled int
	remoteAddr  string
}

func (t *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.timesCalled++
	t.remoteAddr = r.RemoteAddr
}

func TestProxyMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		proxy        config.Proxy
		r            *http.Request
		expectedAddr string
	}{
		{
			name:  "no proxy should keep default remote addr",
			proxy: config.Proxy{TrustedHops: 1},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
			},
			expectedAddr: "127.0.0.1:1234",
		},
		{
			name: "single hop picks last X-Forwarded-For entry",
			proxy: config.Proxy{
				Enable:      true,
				TrustedHops: 1,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"X-Forwarded-For": []string{"203.0.113.7, 10.3.2.1"},
				},
			},
			expectedAddr: "10.3.2.1",
		},
		{
			name: "two hops picks second entry from the end",
			proxy: config.Proxy{
				Enable:      true,
				TrustedHops: 2,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"X-Forwarded-For": []string{"203.0.113.7, 198.51.100.2, 10.3.2.1"},
				},
			},
			expectedAddr: "198.51.100.2",
		},
		{
			name: "more hops than entries falls back to first entry",
			proxy: config.Proxy{
				Enable:      true,
				TrustedHops: 5,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"X-Forwarded-For": []string{"203.0.113.7, 10.3.2.1"},
				},
			},
			expectedAddr: "203.0.113.7",
		},
		{
			name: "X-Real-Ip is used when X-Forwarded-For is absent",
			proxy: config.Proxy{
				Enable:      true,
				TrustedHops: 1,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"X-Real-Ip": []string{"203.0.113.7"},
				},
			},
			expectedAddr: "203.0.113.7",
		},
		{
			name: "Forwarded header is parsed",
			proxy: config.Proxy{
				Enable:      true,
				TrustedHops: 1,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"Forwarded": []string{"for=203.0.113.7;proto=https"},
				},
			},
			expectedAddr: "203.0.113.7",
		},
		{
			name: "custom header wins",
			proxy: config.Proxy{
				Enable:      true,
				Header:      "Cf-Connecting-Ip",
				TrustedHops: 1,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"Cf-Connecting-Ip": []string{"203.0.113.7"},
					"X-Forwarded-For":  []string{"198.51.100.2"},
				},
			},
			expectedAddr: "203.0.113.7",
		},
		{
			name: "garbage header falls back to remote addr",
			proxy: config.Proxy{
				Enable:      true,
				TrustedHops: 1,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"X-Forwarded-For": []string{"not-an-ip"},
				},
			},
			expectedAddr: "127.0.0.1:1234",
		},
		{
			name: "headers are ignored when proxy is disabled",
			proxy: config.Proxy{
				TrustedHops: 1,
			},
			r: &http.Request{
				RemoteAddr: "127.0.0.1:1234",
				Header: http.Header{
					"X-Forwarded-For": []string{"203.0.113.7"},
				},
			},
			expectedAddr: "127.0.0.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &testHandler{}
			m := NewProxyMiddleware(tt.proxy, next)
			m.ServeHTTP(nil, tt.r)

			if next.timesCalled != 1 {
				t.Fatalf("next handler must be called exactly once; got %d", next.timesCalled)
			}
			if next.remoteAddr != tt.expectedAddr {
				t.Fatalf("unexpected remote addr %q; expecting %q", next.remoteAddr, tt.expectedAddr)
			}
		})
	}
}
