package security

import (
	"net/http"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xForwardedFor     string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:54321",
			want:       "203.0.113.5",
		},
		{
			name:          "headers ignored without trust",
			remoteAddr:    "10.0.0.1:80",
			xForwardedFor: "203.0.113.5",
			xRealIP:       "198.51.100.7",
			want:          "10.0.0.1",
		},
		{
			name:          "single proxy",
			remoteAddr:    "10.0.0.1:80",
			xForwardedFor: "203.0.113.5",
			trustProxy:    true,
			want:          "203.0.113.5",
		},
		{
			name:              "two trusted proxies pick rightmost untrusted",
			remoteAddr:        "10.0.0.1:80",
			xForwardedFor:     "198.51.100.7, 203.0.113.5, 10.0.0.2, 10.0.0.3",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.5",
		},
		{
			name:              "chain shorter than proxy count falls back to leftmost",
			remoteAddr:        "10.0.0.1:80",
			xForwardedFor:     "203.0.113.5",
			trustProxy:        true,
			trustedProxyCount: 5,
			want:              "203.0.113.5",
		},
		{
			name:          "spoofed garbage entry falls through to real ip",
			remoteAddr:    "10.0.0.1:80",
			xForwardedFor: "not-an-ip",
			xRealIP:       "203.0.113.5",
			trustProxy:    true,
			want:          "203.0.113.5",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			xRealIP:    "203.0.113.5",
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "all headers empty falls back to peer",
			remoteAddr: "10.0.0.1:80",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.5",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{
				RemoteAddr: tt.remoteAddr,
				Header:     http.Header{},
			}
			if tt.xForwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
