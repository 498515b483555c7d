package hubauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/appportal/hubauth/instrumentation"
	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/server"
	"github.com/appportal/hubauth/storage"
)

const tokenTypeBearer = "Bearer"

// Well-known discovery paths.
const (
	MetadataPathAuthServer = "/.well-known/oauth-authorization-server"
	MetadataPathOIDC       = "/.well-known/openid-configuration"
)

// PrincipalFunc resolves the signed-in portal user for an authorization
// request. The embedding application implements it against its own session
// mechanism (typically a cookie issued after upstream sign-in and
// provisioning). Returning a nil user with a nil error means "not signed in"
// and sends the browser to the configured sign-in URL.
type PrincipalFunc func(r *http.Request) (*storage.User, error)

// Handler is a thin HTTP adapter for the authorization Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server    *Server
	principal PrincipalFunc
	logger    *slog.Logger
	tracer    trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler. principal is required: the
// authorization endpoint cannot identify the browser user without it.
func NewHandler(srv *Server, principal PrincipalFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server:    srv,
		principal: principal,
		logger:    logger,
	}

	// Initialize tracer if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers all endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(server.PathAuthorize, h.ServeAuthorization)
	mux.HandleFunc(server.PathToken, h.ServeToken)
	mux.HandleFunc(server.PathUserInfo, h.ServeUserInfo)
	mux.HandleFunc(server.PathRevoke, h.ServeRevocation)
	mux.HandleFunc(MetadataPathAuthServer, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(MetadataPathOIDC, h.ServeOpenIDConfiguration)
}

// ServeAuthorization handles GET /oauth/authorize.
//
// The browser user must already be signed in to the portal; unauthenticated
// requests are sent to the sign-in URL with the original request attached as
// the "next" parameter so the flow can resume afterwards.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	user, err := h.principal(r)
	if err != nil {
		h.logger.Error("Principal resolution failed", "error", err)
		h.recordHTTPMetrics("authorization", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.SetSpanError(span, "principal resolution failed")
		h.writeError(w, ErrorCodeServerError, "Failed to resolve user session", http.StatusInternalServerError)
		return
	}
	if user == nil {
		h.redirectToSignIn(w, r, startTime, span)
		return
	}

	req := &server.AuthorizeRequest{
		ResponseType: r.URL.Query().Get("response_type"),
		ClientID:     r.URL.Query().Get("client_id"),
		RedirectURI:  r.URL.Query().Get("redirect_uri"),
		Scope:        r.URL.Query().Get("scope"),
		State:        r.URL.Query().Get("state"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
	)

	redirectURL, err := h.server.Authorize(ctx, user, req)
	if err != nil {
		h.writeAuthorizeError(w, r, err, startTime, span)
		return
	}

	h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// redirectToSignIn sends an unauthenticated browser to the portal sign-in
// page, or answers 401 when no sign-in URL is configured.
func (h *Handler) redirectToSignIn(w http.ResponseWriter, r *http.Request, startTime time.Time, span trace.Span) {
	if h.server.Config.SignInURL == "" {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "no user session")
		h.writeError(w, ErrorCodeInvalidRequest, "Sign-in required", http.StatusUnauthorized)
		return
	}

	signIn, err := url.Parse(h.server.Config.SignInURL)
	if err != nil {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrorCodeServerError, "Invalid sign-in configuration", http.StatusInternalServerError)
		return
	}
	q := signIn.Query()
	q.Set("next", r.URL.String())
	signIn.RawQuery = q.Encode()

	h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, signIn.String(), http.StatusFound)
}

// writeAuthorizeError renders an authorization endpoint error. Redirectable
// protocol errors go back to the validated redirect URI per RFC 6749 Section
// 4.1.2.1; everything else is rendered directly so nothing is ever sent to an
// unvalidated URI.
func (h *Handler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, err error, startTime time.Time, span trace.Span) {
	var flowErr *server.FlowError
	if errors.As(err, &flowErr) {
		instrumentation.SetSpanError(span, flowErr.Code)

		if flowErr.Redirectable {
			if target := flowErr.ErrorRedirectURL(); target != "" {
				h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
		}

		status := http.StatusBadRequest
		if flowErr.Code == server.ErrorCodeServerError {
			status = http.StatusInternalServerError
		}
		h.recordHTTPMetrics("authorization", r.Method, status, startTime)
		h.writeError(w, flowErr.Code, flowErr.Description, status)
		return
	}

	h.logger.Error("Authorization failed", "error", err)
	h.recordHTTPMetrics("authorization", r.Method, http.StatusInternalServerError, startTime)
	instrumentation.RecordError(span, err)
	h.writeError(w, ErrorCodeServerError, "Authorization failed", http.StatusInternalServerError)
}

// ServeToken handles POST /oauth/token for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Malformed request body", http.StatusBadRequest)
		return
	}

	clientID, ok := h.authenticateClient(w, r, clientIP)
	if !ok {
		h.recordHTTPMetrics("token", r.Method, http.StatusUnauthorized, startTime)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
	)

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(ctx, w, r, clientID, startTime, span)
	case "refresh_token":
		h.handleRefreshTokenGrant(ctx, w, r, clientID, startTime, span)
	default:
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unsupported grant_type")
		h.writeError(w, ErrorCodeUnsupportedGrantType,
			"Supported grant types: authorization_code, refresh_token", http.StatusBadRequest)
	}
}

// handleAuthorizationCodeGrant redeems an authorization code for a token pair.
func (h *Handler) handleAuthorizationCodeGrant(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string, startTime time.Time, span trace.Span) {
	code := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")

	if code == "" {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
		return
	}

	tok, scope, err := h.server.ExchangeAuthorizationCode(ctx, code, clientID, redirectURI)
	if err != nil {
		h.writeTokenError(w, r, err, startTime, span)
		return
	}

	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, tok.AccessToken, tok.RefreshToken, scope, tok.Expiry)
}

// handleRefreshTokenGrant rotates a refresh token into a new token pair.
func (h *Handler) handleRefreshTokenGrant(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string, startTime time.Time, span trace.Span) {
	refreshToken := r.PostFormValue("refresh_token")
	requestedScope := r.PostFormValue("scope")

	if refreshToken == "" {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	tok, scope, err := h.server.RefreshAccessToken(ctx, refreshToken, clientID, requestedScope)
	if err != nil {
		h.writeTokenError(w, r, err, startTime, span)
		return
	}

	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, tok.AccessToken, tok.RefreshToken, scope, tok.Expiry)
}

// writeTokenError maps a flow-layer error to a token endpoint response.
func (h *Handler) writeTokenError(w http.ResponseWriter, r *http.Request, err error, startTime time.Time, span trace.Span) {
	var flowErr *server.FlowError
	if errors.As(err, &flowErr) {
		status := http.StatusBadRequest
		switch flowErr.Code {
		case server.ErrorCodeInvalidClient:
			status = http.StatusUnauthorized
		case server.ErrorCodeServerError:
			status = http.StatusInternalServerError
		}
		h.recordHTTPMetrics("token", r.Method, status, startTime)
		instrumentation.SetSpanError(span, flowErr.Code)
		h.writeError(w, flowErr.Code, flowErr.Description, status)
		return
	}

	h.logger.Error("Token request failed", "error", err)
	h.recordHTTPMetrics("token", r.Method, http.StatusInternalServerError, startTime)
	instrumentation.RecordError(span, err)
	h.writeError(w, ErrorCodeServerError, "Token request failed", http.StatusInternalServerError)
}

// ServeUserInfo handles GET /oauth/userinfo with a Bearer access token.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.userinfo")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	accessToken, ok := h.extractBearerToken(w, r)
	if !ok {
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusUnauthorized, startTime)
		return
	}

	user, _, err := h.server.ResolveAccessToken(ctx, accessToken)
	if err != nil {
		h.logger.Debug("Userinfo token resolution failed", "ip", clientIP)
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "invalid token")
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Invalid or revoked access token")
		return
	}

	if h.checkUserRateLimit(w, r, user.ID, clientIP) {
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	info := h.buildUserInfo(ctx, user)

	h.recordHTTPMetrics("userinfo", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(info)
}

// buildUserInfo assembles the userinfo payload for a resolved user, expanding
// group memberships to names. Membership lookup failures degrade to an empty
// group list rather than failing the whole request.
func (h *Handler) buildUserInfo(ctx context.Context, user *storage.User) *UserInfoResponse {
	info := &UserInfoResponse{
		Subject: user.ID,
		Email:   user.Email,
		Name:    user.DisplayName,
	}
	if at := strings.IndexByte(user.Email, '@'); at > 0 {
		info.PreferredUsername = user.Email[:at]
	}

	store := h.server.Store()
	groupIDs, err := store.GetUserGroupIDs(ctx, user.ID)
	if err != nil {
		h.logger.Warn("Failed to load group memberships for userinfo", "error", err)
		return info
	}
	for _, id := range groupIDs {
		group, err := store.GetGroup(ctx, id)
		if err != nil {
			continue
		}
		info.Groups = append(info.Groups, group.Name)
	}
	return info
}

// ServeRevocation handles POST /oauth/revoke per RFC 7009. The response is
// 200 with an empty body whether or not the token was known, so callers
// cannot probe token validity through this endpoint.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revocation", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("revocation", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revocation", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Malformed request body", http.StatusBadRequest)
		return
	}

	clientID, ok := h.authenticateClient(w, r, clientIP)
	if !ok {
		h.recordHTTPMetrics("revocation", r.Method, http.StatusUnauthorized, startTime)
		return
	}

	tokenStr := r.PostFormValue("token")
	if tokenStr == "" {
		h.recordHTTPMetrics("revocation", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}
	// token_type_hint is accepted but not needed: both halves of a pair are
	// indexed, so lookup order does not depend on the hint.

	if err := h.server.RevokeToken(ctx, tokenStr, clientID, clientIP); err != nil {
		h.logger.Warn("Revocation failed", "error", err)
		h.recordHTTPMetrics("revocation", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, ErrorCodeServerError, "Revocation failed", http.StatusInternalServerError)
		return
	}

	h.recordHTTPMetrics("revocation", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	w.WriteHeader(http.StatusOK)
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	cfg := h.server.Config
	metadata := &AuthorizationServerMetadata{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             cfg.AuthorizationEndpoint(),
		TokenEndpoint:                     cfg.TokenEndpoint(),
		UserInfoEndpoint:                  cfg.UserInfoEndpoint(),
		RevocationEndpoint:                cfg.RevocationEndpoint(),
		ScopesSupported:                   cfg.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		IDTokenSigningAlgValuesSupported:  []string{h.server.TokenManager().SigningAlgorithm()},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// ServeOpenIDConfiguration handles OpenID Connect Discovery 1.0 requests.
// Per RFC 8414 Section 5 it returns the same metadata document as the
// authorization server metadata endpoint.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	h.ServeAuthorizationServerMetadata(w, r)
}

// authenticateClient authenticates the calling application using HTTP Basic
// auth (client_secret_basic) or form parameters (client_secret_post). All
// failures produce the same invalid_client response; the storage layer keeps
// the secret comparison constant-time.
func (h *Handler) authenticateClient(w http.ResponseWriter, r *http.Request, clientIP string) (string, bool) {
	clientID, clientSecret, ok := r.BasicAuth()
	if ok {
		// Basic auth credentials are form-urlencoded per RFC 6749 Section 2.3.1.
		if id, err := url.QueryUnescape(clientID); err == nil {
			clientID = id
		}
		if secret, err := url.QueryUnescape(clientSecret); err == nil {
			clientSecret = secret
		}
	} else {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}

	if clientID == "" {
		h.writeInvalidClient(w)
		return "", false
	}

	if err := h.server.Store().ValidateClientSecret(r.Context(), clientID, clientSecret); err != nil {
		h.logger.Debug("Client authentication failed", "client_id", clientID, "ip", clientIP)
		if h.server.Auditor != nil {
			h.server.Auditor.LogAuthFailure("", clientID, clientIP, "client_authentication_failed")
		}
		h.writeInvalidClient(w)
		return "", false
	}

	return clientID, true
}

// writeInvalidClient writes the uniform client authentication failure.
func (h *Handler) writeInvalidClient(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="hubauth"`)
	h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Missing Authorization header")
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Invalid Authorization header format")
		return "", false
	}

	return parts[1], true
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
	h.recordRateLimitExceeded(r.Context(), "ip", clientIP, "", r.URL.Path)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// checkUserRateLimit checks if the user is rate limited. Returns true if limited.
func (h *Handler) checkUserRateLimit(w http.ResponseWriter, r *http.Request, userID, clientIP string) bool {
	if h.server.UserRateLimiter == nil || h.server.UserRateLimiter.Allow(userID) {
		return false
	}

	h.logger.Warn("User rate limit exceeded", "user_id", userID, "ip", clientIP)
	h.recordRateLimitExceeded(r.Context(), "user", clientIP, userID, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded for user. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordRateLimitExceeded records rate limit metrics and audit events.
func (h *Handler) recordRateLimitExceeded(ctx context.Context, limitType, clientIP, userID, endpoint string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, limitType)
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventRateLimitExceeded,
			UserID:    userID,
			IPAddress: clientIP,
			Details:   map[string]any{"endpoint": endpoint},
		})
	}
}

// recordHTTPMetrics records request count and duration for an endpoint.
func (h *Handler) recordHTTPMetrics(endpoint, method string, statusCode int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, statusCode, durationMs)
}

// setCORSHeaders sets CORS headers for browser-based clients on the
// read-only endpoints (discovery, userinfo).
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.Header().Set("Vary", "Origin")
}

// writeError writes a JSON OAuth error response.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeUnauthorizedError writes a 401 with the RFC 6750 WWW-Authenticate header.
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate",
		`Bearer realm="hubauth", error="`+code+`", error_description="`+description+`"`)
	h.writeError(w, code, description, http.StatusUnauthorized)
}

// writeTokenResponse writes a successful token endpoint response with the
// cache headers RFC 6749 Section 5.1 requires.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken, scope string, expiry time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:  accessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(time.Until(expiry).Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	})
}
