// Package security provides security-related functionality for the
// authorization server: rate limiting, credential generation and hashing,
// audit logging, client IP extraction, request ID propagation, and secure
// response headers.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket
// algorithm with automatic memory management through LRU eviction. To prevent
// unbounded memory growth under distributed attacks, the limiter enforces a
// configurable maximum number of tracked identifiers; when the limit is
// reached the least recently used entries are evicted first, so legitimate
// repeat callers are the last to go.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//		// 429 Too Many Requests
//	}
//
// # Credentials
//
// NewClientID and NewClientSecret generate application credentials;
// HashClientSecret stores only a bcrypt hash. ConstantTimeEquals is the
// fixed-time comparison primitive for any direct secret comparison.
//
// # Audit Logging
//
// The Auditor emits structured security events with user identifiers hashed
// before logging. Event type constants live in events.go.
package security
