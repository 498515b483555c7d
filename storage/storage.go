// Package storage defines interfaces for persisting OAuth clients, users,
// groups, access grants, authorization codes, and token pairs.
// It supports multiple backend implementations (in-memory, SQLite).
package storage

import (
	"context"
	"time"
)

// ClientStore defines the interface for managing registered applications.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient creates or updates a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by its public client_id
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret in constant time.
	// Unknown clients and wrong secrets return the same error so callers
	// cannot distinguish the two cases.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// DeleteClient removes a client and cascades its grants, codes, and tokens
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// UserStore defines the interface for managing provisioned principals.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	// SaveUser creates or updates a user record
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by internal ID
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserByExternalSubject retrieves a user by the upstream subject identifier
	GetUserByExternalSubject(ctx context.Context, externalSubjectID string) (*User, error)

	// ListUsers lists all users (for admin purposes)
	ListUsers(ctx context.Context) ([]*User, error)
}

// GroupStore defines the interface for managing hub-local groups and their
// memberships. Deleting a group cascades its memberships and any grants
// referencing it.
// All methods accept context.Context for tracing and cancellation.
type GroupStore interface {
	// SaveGroup creates or updates a group
	SaveGroup(ctx context.Context, group *Group) error

	// GetGroup retrieves a group by ID
	GetGroup(ctx context.Context, groupID string) (*Group, error)

	// DeleteGroup removes a group, its memberships, and its grants
	DeleteGroup(ctx context.Context, groupID string) error

	// ListGroups lists all groups (for admin purposes)
	ListGroups(ctx context.Context) ([]*Group, error)

	// AddGroupMember adds a user to a group (idempotent)
	AddGroupMember(ctx context.Context, groupID, userID string) error

	// RemoveGroupMember removes a user from a group (idempotent)
	RemoveGroupMember(ctx context.Context, groupID, userID string) error

	// GetGroupMembers returns the user IDs belonging to a group
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// GetUserGroupIDs returns the IDs of the groups a user belongs to
	GetUserGroupIDs(ctx context.Context, userID string) ([]string, error)
}

// GrantStore defines the interface for managing access grants. A grant ties
// exactly one subject (a user or a group) to a client. The pair
// (client, subject) is unique; saving a duplicate returns ErrDuplicateGrant.
// All methods accept context.Context for tracing and cancellation.
type GrantStore interface {
	// SaveGrant records a new access grant
	SaveGrant(ctx context.Context, grant *Grant) error

	// GetGrant retrieves a grant by ID
	GetGrant(ctx context.Context, grantID string) (*Grant, error)

	// DeleteGrant removes a grant
	DeleteGrant(ctx context.Context, grantID string) error

	// ListGrantsForClient returns all grants attached to a client
	ListGrantsForClient(ctx context.Context, clientID string) ([]*Grant, error)
}

// CodeStore defines the interface for managing authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is live and marks
	// it consumed. Among concurrent redemptions of the same code exactly one
	// call succeeds; the rest observe ErrCodeConsumed. Expiry is evaluated
	// lazily at consumption time.
	// Returns the code record on success, or:
	// - ErrCodeNotFound if no such code exists
	// - ErrCodeConsumed if the code was already redeemed
	// - ErrCodeExpired if the code's TTL has elapsed
	// SECURITY: This operation MUST be atomic to prevent concurrent code exchange attacks.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for managing issued token pairs.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveTokenPair persists a newly issued token pair
	SaveTokenPair(ctx context.Context, pair *TokenPair) error

	// GetTokenPairByAccess retrieves the live pair holding the given access token.
	// Revoked pairs return ErrTokenRevoked; expired pairs return ErrTokenExpired.
	GetTokenPairByAccess(ctx context.Context, accessToken string) (*TokenPair, error)

	// GetTokenPairByRefresh retrieves the live pair holding the given refresh
	// token. A revoked pair is returned together with ErrTokenRevoked so the
	// caller can attribute the replay; expired pairs return ErrTokenExpired.
	GetTokenPairByRefresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// RotateTokenPair atomically revokes the live pair identified by
	// refreshToken and inserts newPair in its place. The old pair must be
	// bound to clientID, unrevoked, and unexpired. Among concurrent rotations
	// of the same refresh token exactly one call succeeds; the rest observe
	// ErrTokenRevoked. Returns the revoked (old) pair on success.
	// SECURITY: This operation MUST be atomic to prevent concurrent refresh attacks.
	RotateTokenPair(ctx context.Context, refreshToken, clientID string, newPair *TokenPair) (*TokenPair, error)

	// RevokeTokenPair marks the pair with the given ID as revoked (idempotent)
	RevokeTokenPair(ctx context.Context, pairID string) error

	// RevokeAllForUserClient revokes every live pair for a user+client
	// combination. Returns the number of pairs revoked.
	RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// Store is the composite interface a full backend implements.
type Store interface {
	ClientStore
	UserStore
	GroupStore
	GrantStore
	CodeStore
	TokenStore
}

// Client represents a registered application.
type Client struct {
	ID           string // internal record ID
	ClientID     string // public identifier ("hub_" prefix)
	SecretHash   string // bcrypt hash; plaintext secret is never stored
	Name         string
	Description  string
	RedirectURIs []string // exact-match allowlist
	Scopes       []string
	IsPublic     bool // any authenticated user may use this client
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User represents a principal provisioned from the upstream identity provider.
type User struct {
	ID                string
	ExternalSubjectID string // unique upstream subject
	Email             string
	DisplayName       string
	Department        string
	JobTitle          string
	UpstreamGroups    []string // directory group names from the last assertion
	Active            bool
	Admin             bool
	LastLoginAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Group represents a hub-local group of users.
type Group struct {
	ID          string
	Name        string // unique
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubjectKind discriminates the two grant subject variants.
type SubjectKind string

const (
	// SubjectKindUser marks a grant made directly to a single user.
	SubjectKindUser SubjectKind = "user"
	// SubjectKindGroup marks a grant made to every member of a group.
	SubjectKindGroup SubjectKind = "group"
)

// GrantSubject identifies who a grant applies to: exactly one of a user or a
// group. Construct values with SubjectUser or SubjectGroup; the zero value is
// invalid.
type GrantSubject struct {
	Kind SubjectKind
	ID   string
}

// SubjectUser returns a grant subject naming a single user.
func SubjectUser(userID string) GrantSubject {
	return GrantSubject{Kind: SubjectKindUser, ID: userID}
}

// SubjectGroup returns a grant subject naming a group.
func SubjectGroup(groupID string) GrantSubject {
	return GrantSubject{Kind: SubjectKindGroup, ID: groupID}
}

// Valid reports whether the subject names exactly one target.
func (s GrantSubject) Valid() bool {
	return (s.Kind == SubjectKindUser || s.Kind == SubjectKindGroup) && s.ID != ""
}

// Grant ties a subject to a client. Grants only ever widen access: the
// evaluator treats the set of grants as additive.
type Grant struct {
	ID        string
	ClientID  string
	Subject   GrantSubject
	GrantedBy string // admin user ID, informational
	CreatedAt time.Time
}

// AuthorizationCode represents an issued single-use authorization code.
// ConsumedAt is nil while the code is live; consumption is a compare-and-set
// on this field.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Scope       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// TokenPair represents one issued access/refresh token pair. Rotation revokes
// the old pair and inserts a new one; RevokedAt is nil while the pair is live.
type TokenPair struct {
	ID               string
	AccessToken      string // signed JWT, stored for server-side revocation lookup
	RefreshToken     string // opaque
	ClientID         string
	UserID           string
	Scope            string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	RevokedAt        *time.Time
}
