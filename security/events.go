package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new token pair is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a token pair is rotated via refresh
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by a client or admin
	EventTokenRevoked = "token_revoked"

	// EventAllTokensRevoked is logged when all token pairs for a user+client are revoked
	EventAllTokensRevoked = "all_tokens_revoked" //nolint:gosec // G101: event type name, not a credential

	// Authorization flow events

	// EventCodeIssued is logged when an authorization code is issued
	EventCodeIssued = "authorization_code_issued"

	// EventCodeReuseDetected is logged when a consumed authorization code is presented again
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// EventAccessDenied is logged when grant evaluation denies an authorization request
	EventAccessDenied = "access_denied"

	// Admin events

	// EventClientRegistered is logged when a new application is registered
	EventClientRegistered = "client_registered"

	// EventClientSecretRotated is logged when an application's secret is rotated
	EventClientSecretRotated = "client_secret_rotated" //nolint:gosec // G101: event type name, not a credential

	// EventGrantChanged is logged when an access grant is created or revoked
	EventGrantChanged = "grant_changed"

	// EventUserProvisioned is logged when a user is created or refreshed from an assertion
	EventUserProvisioned = "user_provisioned"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client tries to widen scopes
	EventScopeEscalationAttempt = "scope_escalation_attempt"
)
