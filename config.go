package hubauth

import (
	"log/slog"
	"time"

	"github.com/appportal/hubauth/instrumentation"
	"github.com/appportal/hubauth/security"
	"github.com/appportal/hubauth/server"
	"github.com/appportal/hubauth/storage"
	"github.com/appportal/hubauth/token"
)

// Config holds the full hubauth wiring for an embedding application.
// Structured using composition: the protocol settings live in Server, the
// ambient concerns (rate limiting, auditing, instrumentation) alongside it.
type Config struct {
	// Server holds the protocol configuration (issuer, sign-in URL, TTLs,
	// supported scopes). Required.
	Server *ServerConfig

	// RateLimit configures IP and per-user request limiting.
	RateLimit RateLimitConfig

	// Audit configures security audit logging.
	Audit AuditConfig

	// Instrumentation enables OpenTelemetry metrics and tracing when set.
	Instrumentation *instrumentation.Config

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// UserRate is requests per second allowed per authenticated user.
	// Applied in addition to IP-based limiting. Zero disables.
	UserRate int

	// UserBurst is the maximum burst size per authenticated user.
	UserBurst int

	// SecurityEventRate caps how often a single user+client combination can
	// produce reuse-detection log entries per second. Zero uses a default of 1.
	SecurityEventRate int
}

// AuditConfig holds security audit logging configuration
type AuditConfig struct {
	// Enabled turns on structured audit events. User identifiers are hashed
	// before they reach the log.
	Enabled bool
}

// New builds a fully wired authorization server from a Config: the core
// server plus auditor, rate limiters, and instrumentation. Applications that
// want to wire these pieces individually can use NewServer and the Set*
// methods directly.
func New(store storage.Store, tokens *token.Manager, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(store, tokens, cfg.Server, logger)
	if err != nil {
		return nil, err
	}

	srv.SetAuditor(security.NewAuditor(logger, cfg.Audit.Enabled))

	if cfg.RateLimit.Rate > 0 {
		srv.SetRateLimiter(security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger))
	}
	if cfg.RateLimit.UserRate > 0 {
		srv.SetUserRateLimiter(security.NewRateLimiter(cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst, logger))
	}
	eventRate := cfg.RateLimit.SecurityEventRate
	if eventRate <= 0 {
		eventRate = 1
	}
	srv.SetSecurityEventRateLimiter(security.NewRateLimiter(eventRate, eventRate, logger))

	if cfg.Instrumentation != nil {
		inst, err := instrumentation.New(*cfg.Instrumentation)
		if err != nil {
			return nil, err
		}
		srv.SetInstrumentation(inst)
	}

	return srv, nil
}

// Sensible default TTLs, exported for embedders that build a ServerConfig by
// hand.
const (
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL       = 1 * time.Hour
	DefaultRefreshTokenTTL      = 30 * 24 * time.Hour
)
