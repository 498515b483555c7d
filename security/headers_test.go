package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSecurityHeaders(rr, "https://auth.example.com")

	want := map[string]string{
		"X-Frame-Options":           "DENY",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "no-referrer",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Cache-Control":             "no-store, no-cache, must-revalidate, private",
		"Pragma":                    "no-cache",
	}
	for header, value := range want {
		if got := rr.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestSetSecurityHeaders_NoHSTSForHTTP(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSecurityHeaders(rr, "http://localhost:8080")

	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set for plain-HTTP issuer: %q", got)
	}
	// The rest of the headers still apply.
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
