package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the client IP for a request.
//
// With trustProxy disabled the connection peer (RemoteAddr) is used and
// forwarding headers are ignored entirely, since anyone can set them. With
// trustProxy enabled, X-Forwarded-For is consulted first and X-Real-IP as a
// fallback; trustedProxyCount says how many proxies at the right end of the
// X-Forwarded-For chain are ours, which is what makes the value spoof-proof
// in multi-proxy deployments.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := validIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIPFromForwardedFor picks the client entry out of an X-Forwarded-For
// chain. The header reads "client, proxy1, proxy2, ..." with our own proxies
// appended at the right, so the client is trustedProxyCount+1 entries from
// the end. A zero count is treated as one proxy (the one that set the
// header); a short chain falls back to the leftmost entry.
func clientIPFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	entries := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies == 0 {
		proxies = 1
	}
	idx := len(entries) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	return validIP(strings.TrimSpace(entries[idx]))
}

// validIP returns s if it parses as an IP address, else "".
func validIP(s string) string {
	if s == "" || net.ParseIP(s) == nil {
		return ""
	}
	return s
}
