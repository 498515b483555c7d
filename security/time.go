package security

import "time"

// DefaultClockSkewGracePeriod is how far past an expiry timestamp a token is
// still honored. Hub hosts and client hosts sync via NTP but drift a little;
// five seconds absorbs typical drift without meaningfully extending token
// lifetimes.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired reports whether expiresAt has passed, allowing the default
// clock skew grace period. A zero time means no expiry.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod is IsTokenExpired with a caller-chosen grace
// period.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(grace))
}

// IsTokenExpiringSoon reports whether expiresAt falls within the next
// threshold duration. Used to decide when a refresh is worth doing early.
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(expiresAt)
}
