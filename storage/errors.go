package storage

import "errors"

// Sentinel errors returned by store implementations. Callers compare with
// errors.Is; backends may wrap these with additional context.
var (
	// ErrClientNotFound indicates no client exists for the given client_id.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientSecret indicates client authentication failed. Unknown
	// clients and wrong secrets both surface as this error.
	ErrInvalidClientSecret = errors.New("invalid client credentials")

	// ErrUserNotFound indicates no user exists for the given identifier.
	ErrUserNotFound = errors.New("user not found")

	// ErrGroupNotFound indicates no group exists for the given ID.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGrantNotFound indicates no grant exists for the given ID.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrDuplicateGrant indicates a grant for the same (client, subject) pair
	// already exists.
	ErrDuplicateGrant = errors.New("grant already exists")

	// ErrCodeNotFound indicates no authorization code exists for the given value.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeConsumed indicates the authorization code was already redeemed.
	ErrCodeConsumed = errors.New("authorization code already consumed")

	// ErrCodeExpired indicates the authorization code's TTL has elapsed.
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrTokenNotFound indicates no token pair holds the given token value.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenRevoked indicates the token pair has been revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenExpired indicates the token has expired.
	ErrTokenExpired = errors.New("token expired")
)
