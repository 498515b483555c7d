package server

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/appportal/hubauth/instrumentation"
	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/storage"
	"github.com/appportal/hubauth/token"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization server logic: the code flow, token
// issuance and rotation, grant-based access evaluation, and the admin
// operations. It is transport-agnostic; the HTTP layer lives in the root
// package.
type Server struct {
	store  storage.Store
	tokens *token.Manager

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	UserRateLimiter          *security.RateLimiter // User-based rate limiter (authenticated requests)
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Logger                   *slog.Logger
	Config                   *Config
	Instrumentation          *instrumentation.Instrumentation

	metrics *instrumentation.Metrics
}

// New creates a new authorization server
func New(
	store storage.Store,
	tokenManager *token.Manager,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if tokenManager == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Server{
		store:  store,
		tokens: tokenManager,
		Config: config,
		Logger: logger,
	}, nil
}

// Store exposes the underlying storage backend, primarily for the embedding
// application's own read paths (admin UIs, reporting).
func (s *Server) Store() storage.Store {
	return s.store
}

// TokenManager exposes the access token manager, for discovery metadata and
// resource servers hosted in the same process.
func (s *Server) TokenManager() *token.Manager {
	return s.tokens
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetUserRateLimiter sets the user-based rate limiter for authenticated requests
func (s *Server) SetUserRateLimiter(rl *security.RateLimiter) {
	s.UserRateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation wires OpenTelemetry metrics into the flow layer.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		s.Instrumentation = inst
		s.metrics = inst.Metrics()
	}
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes, refresh tokens, etc.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
