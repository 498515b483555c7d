// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/appportal/hubauth/instrumentation"
	"github.com/appportal/hubauth/internal/util"
	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token values.
	// This provides enough uniqueness for debugging while keeping logs secure.
	tokenIDLogLength = 8

	// revokedPairRetention is how long revoked token pairs are kept before the
	// cleanup loop removes them. Revoked rows must outlive their access-token
	// expiry so that resolution keeps reporting "revoked" rather than "unknown".
	revokedPairRetention = 24 * time.Hour

	// consumedCodeRetention is how long consumed authorization codes are kept.
	// Keeping them briefly lets concurrent redemptions observe "consumed"
	// instead of "not found".
	consumedCodeRetention = time.Hour
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	// Client storage, keyed by public client_id
	clients map[string]*storage.Client

	// User storage
	users           map[string]*storage.User // user ID -> user
	usersByExternal map[string]string        // external subject ID -> user ID

	// Group storage
	groups       map[string]*storage.Group      // group ID -> group
	groupMembers map[string]map[string]struct{} // group ID -> member user IDs

	// Grant storage
	grants map[string]*storage.Grant // grant ID -> grant

	// Authorization codes, keyed by code value
	authCodes map[string]*storage.AuthorizationCode

	// Token pairs with secondary indexes by token value
	tokenPairs    map[string]*storage.TokenPair // pair ID -> pair
	pairByAccess  map[string]string             // access token -> pair ID
	pairByRefresh map[string]string             // refresh token -> pair ID

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount atomic.Int64
	usersCount   atomic.Int64
	codesCount   atomic.Int64
	pairsCount   atomic.Int64
	grantsCount  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.GroupStore  = (*Store)(nil)
	_ storage.GrantStore  = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		usersByExternal: make(map[string]string),
		groups:          make(map[string]*storage.Group),
		groupMembers:    make(map[string]map[string]struct{}),
		grants:          make(map[string]*storage.Grant),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		tokenPairs:      make(map[string]*storage.TokenPair),
		pairByAccess:    make(map[string]string),
		pairByRefresh:   make(map[string]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCount.Store(int64(len(s.clients)))
	s.usersCount.Store(int64(len(s.users)))
	s.codesCount.Store(int64(len(s.authCodes)))
	s.pairsCount.Store(int64(len(s.tokenPairs)))
	s.grantsCount.Store(int64(len(s.grants)))
	s.mu.Unlock()

	if inst != nil {
		// Storage size callbacks use the atomic counters (lock-free) so metric
		// collection never contends with request traffic
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.usersCount.Load() },
			func() int64 { return s.codesCount.Load() },
			func() int64 { return s.pairsCount.Load() },
			func() int64 { return s.grantsCount.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient creates or updates a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]

	clientCopy := *client
	s.clients[client.ClientID] = &clientCopy

	if !existed {
		s.clientsCount.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by its public client_id
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	clientCopy := *client
	return &clientCopy, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Uses constant-time operations to prevent timing attacks.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// SECURITY: Always perform the same operations so response timing does not
	// reveal whether a client exists, is inactive, or has the wrong secret.

	// Pre-computed dummy hash compared when no real hash applies. This ensures
	// a bcrypt comparison always runs.
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.Active && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	// ALWAYS perform the bcrypt comparison (constant-time by design)
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil {
		return storage.ErrInvalidClientSecret
	}
	if !client.Active || bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}

	return nil
}

// DeleteClient removes a client and cascades its grants, codes, and token pairs
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	delete(s.clients, clientID)
	s.clientsCount.Add(-1)

	for id, grant := range s.grants {
		if grant.ClientID == clientID {
			delete(s.grants, id)
			s.grantsCount.Add(-1)
		}
	}
	for code, authCode := range s.authCodes {
		if authCode.ClientID == clientID {
			delete(s.authCodes, code)
			s.codesCount.Add(-1)
		}
	}
	for id, pair := range s.tokenPairs {
		if pair.ClientID == clientID {
			s.removePairLocked(id)
		}
	}

	s.logger.Debug("Deleted client and cascaded records", "client_id", clientID)
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}

	return clients, nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// SaveUser creates or updates a user record
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	ctx, span := s.startStorageSpan(ctx, "save_user")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_user", err, startTime)
	}()

	if user == nil || user.ID == "" || user.ExternalSubjectID == "" {
		err = fmt.Errorf("invalid user")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.users[user.ID]

	userCopy := *user
	s.users[user.ID] = &userCopy
	s.usersByExternal[user.ExternalSubjectID] = user.ID

	if !existed {
		s.usersCount.Add(1)
	}

	s.logger.Debug("Saved user", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by internal ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}

	userCopy := *user
	return &userCopy, nil
}

// GetUserByExternalSubject retrieves a user by the upstream subject identifier
func (s *Store) GetUserByExternalSubject(ctx context.Context, externalSubjectID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.usersByExternal[externalSubjectID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}

	userCopy := *user
	return &userCopy, nil
}

// ListUsers lists all users
func (s *Store) ListUsers(ctx context.Context) ([]*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*storage.User, 0, len(s.users))
	for _, user := range s.users {
		userCopy := *user
		users = append(users, &userCopy)
	}

	return users, nil
}

// ============================================================
// GroupStore Implementation
// ============================================================

// SaveGroup creates or updates a group
func (s *Store) SaveGroup(ctx context.Context, group *storage.Group) error {
	if group == nil || group.ID == "" || group.Name == "" {
		return fmt.Errorf("invalid group")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groupCopy := *group
	s.groups[group.ID] = &groupCopy
	if _, ok := s.groupMembers[group.ID]; !ok {
		s.groupMembers[group.ID] = make(map[string]struct{})
	}

	s.logger.Debug("Saved group", "group_id", group.ID, "name", group.Name)
	return nil
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, groupID string) (*storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrGroupNotFound, groupID)
	}

	groupCopy := *group
	return &groupCopy, nil
}

// DeleteGroup removes a group, its memberships, and its grants
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrGroupNotFound, groupID)
	}

	delete(s.groups, groupID)
	delete(s.groupMembers, groupID)

	for id, grant := range s.grants {
		if grant.Subject.Kind == storage.SubjectKindGroup && grant.Subject.ID == groupID {
			delete(s.grants, id)
			s.grantsCount.Add(-1)
		}
	}

	s.logger.Debug("Deleted group and cascaded grants", "group_id", groupID)
	return nil
}

// ListGroups lists all groups
func (s *Store) ListGroups(ctx context.Context) ([]*storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]*storage.Group, 0, len(s.groups))
	for _, group := range s.groups {
		groupCopy := *group
		groups = append(groups, &groupCopy)
	}

	return groups, nil
}

// AddGroupMember adds a user to a group (idempotent)
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrGroupNotFound, groupID)
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}

	s.groupMembers[groupID][userID] = struct{}{}
	return nil
}

// RemoveGroupMember removes a user from a group (idempotent)
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if members, ok := s.groupMembers[groupID]; ok {
		delete(members, userID)
	}
	return nil
}

// GetGroupMembers returns the user IDs belonging to a group
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.groupMembers[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrGroupNotFound, groupID)
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids, nil
}

// GetUserGroupIDs returns the IDs of the groups a user belongs to
func (s *Store) GetUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for groupID, members := range s.groupMembers {
		if _, ok := members[userID]; ok {
			ids = append(ids, groupID)
		}
	}
	return ids, nil
}

// ============================================================
// GrantStore Implementation
// ============================================================

// SaveGrant records a new access grant.
// Returns ErrDuplicateGrant when the (client, subject) pair already exists.
func (s *Store) SaveGrant(ctx context.Context, grant *storage.Grant) error {
	ctx, span := s.startStorageSpan(ctx, "save_grant")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_grant", err, startTime)
	}()

	if grant == nil || grant.ID == "" || grant.ClientID == "" || !grant.Subject.Valid() {
		err = fmt.Errorf("invalid grant")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.grants {
		if existing.ClientID == grant.ClientID && existing.Subject == grant.Subject {
			err = storage.ErrDuplicateGrant
			return err
		}
	}

	grantCopy := *grant
	s.grants[grant.ID] = &grantCopy
	s.grantsCount.Add(1)

	s.logger.Debug("Saved grant",
		"grant_id", grant.ID,
		"client_id", grant.ClientID,
		"subject_kind", string(grant.Subject.Kind))
	return nil
}

// GetGrant retrieves a grant by ID
func (s *Store) GetGrant(ctx context.Context, grantID string) (*storage.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrGrantNotFound, grantID)
	}

	grantCopy := *grant
	return &grantCopy, nil
}

// DeleteGrant removes a grant
func (s *Store) DeleteGrant(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[grantID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrGrantNotFound, grantID)
	}

	delete(s.grants, grantID)
	s.grantsCount.Add(-1)
	return nil
}

// ListGrantsForClient returns all grants attached to a client
func (s *Store) ListGrantsForClient(ctx context.Context, clientID string) ([]*storage.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []*storage.Grant
	for _, grant := range s.grants {
		if grant.ClientID == clientID {
			grantCopy := *grant
			grants = append(grants, &grantCopy)
		}
	}
	return grants, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	codeCopy := *code
	s.authCodes[code.Code] = &codeCopy
	s.codesCount.Add(1)

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
//
// NOTE: For actual code exchange, use ConsumeAuthorizationCode instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	// Return a COPY to prevent the caller from modifying our stored version
	codeCopy := *authCode
	return &codeCopy, nil
}

// ConsumeAuthorizationCode atomically checks that a code is live and marks it
// consumed. Expiry is evaluated lazily here; no background reaper is required
// for correctness.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests receive ErrCodeConsumed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	// ATOMIC check-and-set: only one caller can pass this check
	if authCode.ConsumedAt != nil {
		err = storage.ErrCodeConsumed
		return nil, err
	}

	// Lazy expiry with clock skew grace period
	if security.IsTokenExpired(authCode.ExpiresAt) {
		err = storage.ErrCodeExpired
		return nil, err
	}

	now := time.Now()
	authCode.ConsumedAt = &now
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; ok {
		delete(s.authCodes, code)
		s.codesCount.Add(-1)
	}
	s.logger.Debug("Deleted authorization code")
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokenPair persists a newly issued token pair
func (s *Store) SaveTokenPair(ctx context.Context, pair *storage.TokenPair) error {
	ctx, span := s.startStorageSpan(ctx, "save_token_pair")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_token_pair", err, startTime)
	}()

	if pair == nil || pair.ID == "" || pair.AccessToken == "" || pair.RefreshToken == "" {
		err = fmt.Errorf("invalid token pair")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.savePairLocked(pair)

	s.logger.Debug("Saved token pair",
		"pair_id", pair.ID,
		"user_id", pair.UserID,
		"client_id", pair.ClientID)
	return nil
}

// savePairLocked inserts a pair and its indexes. Caller holds the write lock.
func (s *Store) savePairLocked(pair *storage.TokenPair) {
	pairCopy := *pair
	s.tokenPairs[pair.ID] = &pairCopy
	s.pairByAccess[pair.AccessToken] = pair.ID
	s.pairByRefresh[pair.RefreshToken] = pair.ID
	s.pairsCount.Add(1)
}

// removePairLocked deletes a pair and its indexes. Caller holds the write lock.
func (s *Store) removePairLocked(pairID string) {
	pair, ok := s.tokenPairs[pairID]
	if !ok {
		return
	}
	delete(s.pairByAccess, pair.AccessToken)
	delete(s.pairByRefresh, pair.RefreshToken)
	delete(s.tokenPairs, pairID)
	s.pairsCount.Add(-1)
}

// GetTokenPairByAccess retrieves the pair holding the given access token.
// Revoked pairs return ErrTokenRevoked so revocation wins over a valid
// signature; expired pairs return ErrTokenExpired.
func (s *Store) GetTokenPairByAccess(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairID, ok := s.pairByAccess[accessToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	pair := s.tokenPairs[pairID]

	if pair.RevokedAt != nil {
		return nil, storage.ErrTokenRevoked
	}
	if security.IsTokenExpired(pair.AccessExpiresAt) {
		return nil, storage.ErrTokenExpired
	}

	pairCopy := *pair
	return &pairCopy, nil
}

// GetTokenPairByRefresh retrieves the pair holding the given refresh token
func (s *Store) GetTokenPairByRefresh(ctx context.Context, refreshToken string) (*storage.TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairID, ok := s.pairByRefresh[refreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	pair := s.tokenPairs[pairID]

	if pair.RevokedAt != nil {
		// Return the pair alongside the error so reuse detection can
		// attribute the replay to a user and client.
		pairCopy := *pair
		return &pairCopy, storage.ErrTokenRevoked
	}
	if security.IsTokenExpired(pair.RefreshExpiresAt) {
		return nil, storage.ErrTokenExpired
	}

	pairCopy := *pair
	return &pairCopy, nil
}

// RotateTokenPair atomically revokes the live pair identified by refreshToken
// and inserts newPair in its place.
//
// SECURITY: This operation is atomic - only ONE concurrent rotation can
// succeed. All other concurrent rotations receive ErrTokenRevoked.
func (s *Store) RotateTokenPair(ctx context.Context, refreshToken, clientID string, newPair *storage.TokenPair) (*storage.TokenPair, error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_token_pair")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "rotate_token_pair", err, startTime)
	}()

	if newPair == nil || newPair.ID == "" {
		err = fmt.Errorf("invalid replacement token pair")
		return nil, err
	}

	s.mu.Lock() // MUST use write lock for atomic revoke-and-insert
	defer s.mu.Unlock()

	pairID, ok := s.pairByRefresh[refreshToken]
	if !ok {
		err = fmt.Errorf("%w: refresh token", storage.ErrTokenNotFound)
		return nil, err
	}
	pair := s.tokenPairs[pairID]

	// ATOMIC check-and-set: the first rotation marks the pair revoked, every
	// concurrent loser lands here
	if pair.RevokedAt != nil {
		err = storage.ErrTokenRevoked
		return nil, err
	}
	if pair.ClientID != clientID {
		err = fmt.Errorf("%w: refresh token", storage.ErrTokenNotFound)
		return nil, err
	}
	if security.IsTokenExpired(pair.RefreshExpiresAt) {
		err = storage.ErrTokenExpired
		return nil, err
	}

	now := time.Now()
	pair.RevokedAt = &now
	s.savePairLocked(newPair)

	s.logger.Debug("Rotated token pair",
		"old_pair_id", pair.ID,
		"new_pair_id", newPair.ID,
		"user_id", pair.UserID)

	oldCopy := *pair
	return &oldCopy, nil
}

// RevokeTokenPair marks the pair with the given ID as revoked (idempotent)
func (s *Store) RevokeTokenPair(ctx context.Context, pairID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.tokenPairs[pairID]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if pair.RevokedAt == nil {
		now := time.Now()
		pair.RevokedAt = &now
		s.logger.Debug("Revoked token pair", "pair_id", pairID)
	}
	return nil
}

// RevokeAllForUserClient revokes every live pair for a user+client combination
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	if userID == "" || clientID == "" {
		return 0, fmt.Errorf("userID and clientID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	now := time.Now()
	for _, pair := range s.tokenPairs {
		if pair.UserID == userID && pair.ClientID == clientID && pair.RevokedAt == nil {
			pair.RevokedAt = &now
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all token pairs for user+client",
			"user_id", userID,
			"client_id", clientID,
			"pairs_revoked", revoked)
	}

	return revoked, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	now := time.Now()

	// Expired codes can go immediately; consumed codes linger briefly so
	// concurrent redemptions still observe "consumed"
	for code, authCode := range s.authCodes {
		expired := security.IsTokenExpired(authCode.ExpiresAt)
		consumed := authCode.ConsumedAt != nil && now.Sub(*authCode.ConsumedAt) > consumedCodeRetention
		if expired || consumed {
			delete(s.authCodes, code)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	// Token pairs: drop once the refresh token is expired, or once a revoked
	// pair has outlived the retention window
	for id, pair := range s.tokenPairs {
		expired := security.IsTokenExpired(pair.RefreshExpiresAt)
		revokedStale := pair.RevokedAt != nil && now.Sub(*pair.RevokedAt) > revokedPairRetention
		if expired || revokedStale {
			s.removePairLocked(id)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
