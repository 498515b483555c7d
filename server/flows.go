package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/appportal/hubauth/access"
	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/storage"
)

// OAuth 2.0 error codes from RFC 6749.
// Note: These are intentionally duplicated from the root package's errors.go
// to avoid circular imports (root imports server; server can't import root).
// Keep these in sync.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeServerError             = "server_error"
)

// FlowError is an OAuth protocol error produced by the flow layer.
// Redirectable reports whether the error may be relayed to the client's
// redirect URI per RFC 6749 Section 4.1.2.1: only errors raised after the
// client identity and redirect URI have both been validated qualify.
type FlowError struct {
	Code         string
	Description  string
	Redirectable bool
	RedirectURI  string // validated redirect URI, set when Redirectable
	State        string // client state to echo back, set when Redirectable
}

func (e *FlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// ErrorRedirectURL builds the redirect URL carrying the error back to the
// client per RFC 6749 Section 4.1.2.1. Only valid when Redirectable.
func (e *FlowError) ErrorRedirectURL() string {
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// flowErr builds a non-redirectable protocol error.
func flowErr(code, description string) *FlowError {
	return &FlowError{Code: code, Description: description}
}

// AuthorizeRequest carries the parameters of an authorization request after
// the HTTP layer has extracted them.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// Authorize runs the authorization endpoint logic for an already-authenticated
// user: it validates the request, evaluates the user's access to the client,
// issues a single-use authorization code, and returns the redirect URL
// carrying the code and the client's state.
//
// Errors are *FlowError values; the HTTP layer relays Redirectable ones to the
// validated redirect URI and renders the rest directly.
func (s *Server) Authorize(ctx context.Context, user *storage.User, req *AuthorizeRequest) (string, error) {
	if user == nil || user.ID == "" {
		return "", flowErr(ErrorCodeServerError, "no authenticated user")
	}
	if req.ClientID == "" {
		return "", flowErr(ErrorCodeInvalidRequest, "client_id is required")
	}

	// Validate client. Unknown and deactivated clients fail identically so
	// probing cannot distinguish the two.
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil || !client.Active {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(user.ID, req.ClientID, "", ErrorCodeInvalidClient)
		}
		return "", flowErr(ErrorCodeInvalidClient, "unknown client")
	}

	// Validate redirect URI BEFORE anything redirectable: errors must never
	// be relayed to an unregistered URI.
	redirectURI, err := s.resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventInvalidRedirect,
				UserID:   user.ID,
				ClientID: req.ClientID,
				Details:  map[string]any{"redirect_uri": req.RedirectURI},
			})
		}
		return "", flowErr(ErrorCodeInvalidRequest, "redirect_uri is not registered for this client")
	}

	// From here on errors go back to the client via the redirect URI.
	redirectFail := func(code, description string) *FlowError {
		return &FlowError{
			Code:         code,
			Description:  description,
			Redirectable: true,
			RedirectURI:  redirectURI,
			State:        req.State,
		}
	}

	if req.ResponseType != "code" {
		return "", redirectFail(ErrorCodeUnsupportedResponseType,
			fmt.Sprintf("unsupported response_type %q (supported: code)", req.ResponseType))
	}

	// State is required for CSRF protection (OAuth 2.0 Security BCP).
	if req.State == "" {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(user.ID, req.ClientID, "", "missing_state_parameter")
		}
		return "", redirectFail(ErrorCodeInvalidRequest, "state parameter is required")
	}

	if err := s.validateScope(client, req.Scope); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(user.ID, req.ClientID, "", fmt.Sprintf("%s: %v", ErrorCodeInvalidScope, err))
		}
		return "", redirectFail(ErrorCodeInvalidScope, err.Error())
	}

	if !user.Active {
		if s.Auditor != nil {
			s.Auditor.LogAccessDenied(user.ID, req.ClientID, "")
		}
		return "", redirectFail(ErrorCodeAccessDenied, "user account is deactivated")
	}

	// Grant evaluation: public client, direct grant, or group grant.
	allowed, err := s.evaluateAccess(ctx, client, user.ID)
	if err != nil {
		return "", flowErr(ErrorCodeServerError, "access evaluation failed")
	}
	if !allowed {
		if s.Auditor != nil {
			s.Auditor.LogAccessDenied(user.ID, req.ClientID, "")
		}
		if s.metrics != nil {
			s.metrics.RecordAccessDenied(ctx, req.ClientID)
		}
		return "", redirectFail(ErrorCodeAccessDenied, "user is not authorized for this application")
	}

	// Issue the single-use authorization code.
	code := generateRandomToken()
	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:        code,
		ClientID:    client.ClientID,
		UserID:      user.ID,
		RedirectURI: redirectURI,
		Scope:       req.Scope,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}
	if err := s.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		s.Logger.Error("Failed to save authorization code", "error", err)
		return "", flowErr(ErrorCodeServerError, "failed to issue authorization code")
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(user.ID, client.ClientID, "", req.Scope)
	}
	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, client.ClientID)
	}

	return buildCodeRedirect(redirectURI, code, req.State), nil
}

// buildCodeRedirect appends the code and state parameters to the validated
// redirect URI, preserving any query parameters the client registered.
func buildCodeRedirect(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The URI was validated against the registered allowlist already;
		// this path is unreachable with a well-formed registration.
		return redirectURI
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

// resolveRedirectURI validates the requested redirect URI against the
// client's registered allowlist using exact string comparison. An empty
// request selects the sole registered URI, if there is exactly one.
func (s *Server) resolveRedirectURI(client *storage.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", fmt.Errorf("redirect_uri is required")
	}
	for _, registered := range client.RedirectURIs {
		if registered == requested {
			return requested, nil
		}
	}
	return "", fmt.Errorf("redirect_uri is not registered")
}

// validateScope checks the requested scopes against the server-wide allowlist
// and the client's registered scopes. An empty request is always valid.
func (s *Server) validateScope(client *storage.Client, scope string) error {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return nil
	}

	allowed := func(list []string, scope string) bool {
		for _, s := range list {
			if s == scope {
				return true
			}
		}
		return false
	}

	for _, sc := range requested {
		if len(s.Config.SupportedScopes) > 0 && !allowed(s.Config.SupportedScopes, sc) {
			return fmt.Errorf("scope %q is not supported", sc)
		}
		if len(client.Scopes) > 0 && !allowed(client.Scopes, sc) {
			return fmt.Errorf("scope %q is not registered for this client", sc)
		}
	}
	return nil
}

// evaluateAccess loads the inputs for grant evaluation and runs it.
func (s *Server) evaluateAccess(ctx context.Context, client *storage.Client, userID string) (bool, error) {
	// Public clients admit every active user; skip the grant lookups.
	if client.IsPublic {
		return true, nil
	}

	grants, err := s.store.ListGrantsForClient(ctx, client.ClientID)
	if err != nil {
		s.Logger.Error("Failed to list grants", "client_id", client.ClientID, "error", err)
		return false, err
	}
	groupIDs, err := s.store.GetUserGroupIDs(ctx, userID)
	if err != nil {
		s.Logger.Error("Failed to load group memberships", "error", err)
		return false, err
	}

	return access.Evaluate(client, userID, access.NewMemberships(groupIDs), grants), nil
}

// ExchangeAuthorizationCode exchanges an authorization code for a token pair.
// The client must already be authenticated by the caller. Returns the token
// response and the scope the code was issued with.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI string) (*oauth2.Token, string, error) {
	// SECURITY: Atomically consume the code first. This is the
	// synchronization point - among concurrent exchanges of the same code
	// exactly one reaches the validation below.
	authCode, err := s.store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeConsumed) {
			// Code reuse is a token theft indicator: revoke every token pair
			// issued for this user+client (OAuth 2.1 Section 4.1.2).
			s.handleCodeReuse(ctx, code, clientID)
			return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
		}

		// Not found or expired. Log the detail internally, return a generic
		// error to the client per RFC 6749.
		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_authorization_code")
		}
		return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
	}

	// The code is now burned regardless of what the binding checks below
	// find: a code presented with the wrong client or redirect URI must not
	// remain redeemable.

	if authCode.ClientID != clientID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", authCode.ClientID,
			"provided_client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "client_id_mismatch")
		}
		return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
	}

	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(authCode.UserID, clientID, "", "redirect_uri_mismatch")
		}
		return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
	}

	tokenResponse, err := s.issueTokenPair(ctx, authCode.UserID, clientID, authCode.Scope)
	if err != nil {
		s.Logger.Error("Failed to issue token pair", "error", err)
		return nil, "", flowErr(ErrorCodeServerError, "failed to issue tokens")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.UserID, clientID, "", authCode.Scope)
	}
	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, clientID)
	}

	return tokenResponse, authCode.Scope, nil
}

// handleCodeReuse responds to a second redemption of an authorization code:
// it revokes all token pairs for the affected user+client and logs a critical
// security event. Logging is rate limited to keep an attacker from flooding
// the audit trail.
func (s *Server) handleCodeReuse(ctx context.Context, code, clientID string) {
	authCode, err := s.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		// The consumed record was already swept; nothing left to revoke
		// beyond what the first redemption produced.
		return
	}

	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(authCode.UserID+":"+clientID) {
		s.Logger.Error("Authorization code reuse detected - revoking all tokens",
			"user_id", authCode.UserID,
			"client_id", clientID)
	}

	if _, err := s.store.RevokeAllForUserClient(ctx, authCode.UserID, authCode.ClientID); err != nil {
		s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeReuse(authCode.UserID, clientID, "")
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAllTokensRevoked,
			UserID:   authCode.UserID,
			ClientID: authCode.ClientID,
			Details: map[string]any{
				"severity": "critical",
				"reason":   "authorization_code_reuse_detected",
			},
		})
	}
	if s.metrics != nil {
		s.metrics.RecordCodeReuseDetected(ctx)
	}
}

// RefreshAccessToken rotates a refresh token: the presented pair is revoked
// and a new pair is issued atomically. requestedScope may narrow the original
// grant but never widen it; empty keeps the original scope.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, requestedScope string) (*oauth2.Token, string, error) {
	// Read the live pair first to learn the granted scope. The atomic
	// rotation below re-validates everything under the write lock, so a
	// concurrent rotation between here and there simply loses the race.
	oldPair, err := s.store.GetTokenPairByRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) {
			s.handleRefreshReuse(ctx, refreshToken, clientID)
			return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
		}
		s.Logger.Debug("Refresh token validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"token_prefix", safeTruncate(refreshToken, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_refresh_token")
		}
		return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
	}

	if oldPair.ClientID != clientID {
		s.Logger.Debug("Refresh token validation failed",
			"reason", "client_id_mismatch",
			"token_prefix", safeTruncate(refreshToken, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(oldPair.UserID, clientID, "", "refresh_client_mismatch")
		}
		return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
	}

	// Scope may only narrow.
	scope := oldPair.Scope
	if requestedScope != "" {
		if err := scopeSubset(requestedScope, oldPair.Scope); err != nil {
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:     security.EventScopeEscalationAttempt,
					UserID:   oldPair.UserID,
					ClientID: clientID,
					Details:  map[string]any{"requested": requestedScope, "granted": oldPair.Scope},
				})
			}
			return nil, "", flowErr(ErrorCodeInvalidScope, err.Error())
		}
		scope = requestedScope
	}

	newPair, tokenResponse, err := s.buildTokenPair(oldPair.UserID, clientID, scope)
	if err != nil {
		s.Logger.Error("Failed to mint access token", "error", err)
		return nil, "", flowErr(ErrorCodeServerError, "failed to issue tokens")
	}

	// Atomic rotation: exactly one concurrent refresh of the same token
	// succeeds, the rest observe the revoked pair.
	if _, err := s.store.RotateTokenPair(ctx, refreshToken, clientID, newPair); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) {
			s.handleRefreshReuse(ctx, refreshToken, clientID)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(oldPair.UserID, clientID, "", "refresh_rotation_failed")
		}
		return nil, "", flowErr(ErrorCodeInvalidGrant, "invalid grant")
	}

	s.Logger.Info("Refresh token rotated",
		"user_id", oldPair.UserID,
		"client_id", clientID)

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(oldPair.UserID, clientID, "")
	}
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, clientID)
	}

	return tokenResponse, scope, nil
}

// handleRefreshReuse responds to the presentation of an already-revoked
// refresh token. A rotated-then-replayed token is a theft indicator, so every
// pair for the user+client is revoked (OAuth 2.1 refresh token rotation).
func (s *Server) handleRefreshReuse(ctx context.Context, refreshToken, clientID string) {
	// The revoked pair is retained for a window precisely so this lookup can
	// attribute the replay.
	pair, err := s.store.GetTokenPairByRefresh(ctx, refreshToken)
	if !errors.Is(err, storage.ErrTokenRevoked) || pair == nil {
		return
	}

	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(pair.UserID+":"+clientID) {
		s.Logger.Error("Refresh token reuse detected - revoking all tokens",
			"user_id", pair.UserID,
			"client_id", clientID,
			"token_prefix", safeTruncate(refreshToken, 8))
	}

	if _, err := s.store.RevokeAllForUserClient(ctx, pair.UserID, pair.ClientID); err != nil {
		s.Logger.Error("Failed to revoke tokens after refresh reuse detection", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAllTokensRevoked,
			UserID:   pair.UserID,
			ClientID: pair.ClientID,
			Details: map[string]any{
				"severity": "critical",
				"reason":   "refresh_token_reuse_detected",
			},
		})
	}
}

// ResolveAccessToken authenticates a bearer access token: signature and
// claims via the token manager, then the server-side revocation check against
// the stored pair, then the user and client liveness checks. Returns the
// user and the stored pair (which carries the granted scope).
func (s *Server) ResolveAccessToken(ctx context.Context, accessToken string) (*storage.User, *storage.TokenPair, error) {
	if _, err := s.tokens.Verify(accessToken); err != nil {
		return nil, nil, fmt.Errorf("invalid access token")
	}

	// A valid signature is not enough: the pair may have been revoked or
	// rotated away server-side.
	pair, err := s.store.GetTokenPairByAccess(ctx, accessToken)
	if err != nil {
		s.Logger.Debug("Access token resolution failed",
			"reason", err.Error(),
			"token_prefix", safeTruncate(accessToken, 8))
		return nil, nil, fmt.Errorf("invalid access token")
	}

	user, err := s.store.GetUser(ctx, pair.UserID)
	if err != nil || !user.Active {
		return nil, nil, fmt.Errorf("invalid access token")
	}

	client, err := s.store.GetClient(ctx, pair.ClientID)
	if err != nil || !client.Active {
		return nil, nil, fmt.Errorf("invalid access token")
	}

	return user, pair, nil
}

// RevokeToken revokes the token pair holding the presented token, which may
// be either half of the pair. Per RFC 7009 the operation is idempotent and
// unknown tokens are not an error; the HTTP layer always answers 200.
// A token bound to a different client is ignored rather than revoked.
func (s *Server) RevokeToken(ctx context.Context, tokenStr, clientID, clientIP string) error {
	pair, tokenType, err := s.lookupPairByEitherToken(ctx, tokenStr)
	if err != nil {
		// Unknown, already revoked, or expired: revocation "succeeds".
		return nil
	}

	if pair.ClientID != clientID {
		s.Logger.Debug("Revocation request for token owned by another client",
			"client_id", clientID,
			"token_prefix", safeTruncate(tokenStr, 8))
		return nil
	}

	if err := s.store.RevokeTokenPair(ctx, pair.ID); err != nil {
		s.Logger.Warn("Failed to revoke token pair", "error", err)
		return err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(pair.UserID, clientID, clientIP, tokenType)
	}
	if s.metrics != nil {
		s.metrics.RecordTokenRevocation(ctx, clientID)
	}

	s.Logger.Info("Token revoked", "client_id", clientID, "token_type", tokenType)
	return nil
}

// lookupPairByEitherToken finds the live pair holding the token, trying the
// refresh index first (the common revocation target), then the access index.
func (s *Server) lookupPairByEitherToken(ctx context.Context, tokenStr string) (*storage.TokenPair, string, error) {
	if pair, err := s.store.GetTokenPairByRefresh(ctx, tokenStr); err == nil {
		return pair, "refresh_token", nil
	}
	if pair, err := s.store.GetTokenPairByAccess(ctx, tokenStr); err == nil {
		return pair, "access_token", nil
	}
	return nil, "", storage.ErrTokenNotFound
}

// RevokeAllForUserClient revokes every live token pair for a user+client
// combination. Used by admin tooling and by the reuse-detection paths.
func (s *Server) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	revoked, err := s.store.RevokeAllForUserClient(ctx, userID, clientID)
	if err != nil {
		return 0, err
	}

	if revoked > 0 {
		s.Logger.Warn("Revoked all token pairs for user+client",
			"user_id", userID,
			"client_id", clientID,
			"pairs_revoked", revoked)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventAllTokensRevoked,
				UserID:   userID,
				ClientID: clientID,
				Details:  map[string]any{"pairs_revoked": revoked},
			})
		}
	}

	return revoked, nil
}

// issueTokenPair mints and persists a fresh token pair.
func (s *Server) issueTokenPair(ctx context.Context, userID, clientID, scope string) (*oauth2.Token, error) {
	pair, tokenResponse, err := s.buildTokenPair(userID, clientID, scope)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveTokenPair(ctx, pair); err != nil {
		return nil, err
	}
	return tokenResponse, nil
}

// buildTokenPair mints the signed access token and opaque refresh token for a
// new pair without persisting it. The caller decides between SaveTokenPair
// (fresh issuance) and RotateTokenPair (refresh).
func (s *Server) buildTokenPair(userID, clientID, scope string) (*storage.TokenPair, *oauth2.Token, error) {
	now := time.Now()

	accessToken, err := s.tokens.Mint(userID, clientID, strings.Fields(scope), now)
	if err != nil {
		return nil, nil, err
	}
	refreshToken := generateRandomToken()

	pair := &storage.TokenPair{
		ID:               uuid.NewString(),
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ClientID:         clientID,
		UserID:           userID,
		Scope:            scope,
		AccessExpiresAt:  now.Add(s.tokens.AccessTTL()),
		RefreshExpiresAt: now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
		CreatedAt:        now,
	}

	tokenResponse := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       pair.AccessExpiresAt,
	}

	return pair, tokenResponse, nil
}

// scopeSubset checks that every requested scope is contained in granted.
func scopeSubset(requested, granted string) error {
	grantedSet := make(map[string]struct{})
	for _, sc := range strings.Fields(granted) {
		grantedSet[sc] = struct{}{}
	}
	for _, sc := range strings.Fields(requested) {
		if _, ok := grantedSet[sc]; !ok {
			return fmt.Errorf("scope %q exceeds the original grant", sc)
		}
	}
	return nil
}
