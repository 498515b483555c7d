package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders applies the baseline security headers for authorization
// server responses. Endpoints here serve JSON or redirects only, so the
// policy can be maximally strict: nothing embeds us, nothing loads resources.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()

	// No framing: the authorization endpoint must never render inside an
	// iframe (clickjacking).
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")

	// HSTS only makes sense when the issuer itself is HTTPS.
	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Responses carry codes and tokens; intermediaries must not cache them.
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
