package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Required.
	// Stamped into access tokens and published in the discovery document.
	Issuer string

	// SignInURL is where unauthenticated browsers are sent from the
	// authorization endpoint. The original authorization request URL is
	// appended as a "next" query parameter so the portal can resume the
	// flow after sign-in. Optional; when empty the endpoint returns 401.
	SignInURL string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// SupportedScopes lists the scopes the server accepts, before any
	// per-client narrowing. If empty, all scopes are allowed.
	SupportedScopes []string

	// RevokeTokensOnGrantRemoval revokes the live token pairs of every user
	// a grant covered when that grant is deleted. When false (the default),
	// removing a grant only affects future authorization requests and
	// already-issued tokens run out their natural lifetime.
	RevokeTokensOnGrantRemoval bool // default: false

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// When false, uses direct connection IP (secure by default)
	// Default: false
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Example: If you have 2 proxies (CloudFlare + nginx), set this to 2
	// The client IP will be extracted as: ips[len(ips) - TrustedProxyCount - 1]
	// Default: 1
	TrustedProxyCount int // default: 1

	// ClockSkewGracePeriod is the grace period for token expiration checks (in seconds)
	// This prevents false expiration errors due to time synchronization issues
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5
}

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if u, err := url.Parse(config.Issuer); err == nil && u.Scheme == "http" {
		logger.Warn("⚠️  SECURITY WARNING: Issuer uses plain HTTP",
			"risk", "Tokens and credentials transmitted in cleartext",
			"recommendation", "Use an https:// issuer outside of local development")
	}
}

// Endpoint paths, relative to the issuer.
const (
	PathAuthorize = "/oauth/authorize"
	PathToken     = "/oauth/token"
	PathUserInfo  = "/oauth/userinfo"
	PathRevoke    = "/oauth/revoke"
)

// AuthorizationEndpoint returns the absolute authorization endpoint URL.
func (c *Config) AuthorizationEndpoint() string {
	return strings.TrimSuffix(c.Issuer, "/") + PathAuthorize
}

// TokenEndpoint returns the absolute token endpoint URL.
func (c *Config) TokenEndpoint() string {
	return strings.TrimSuffix(c.Issuer, "/") + PathToken
}

// UserInfoEndpoint returns the absolute userinfo endpoint URL.
func (c *Config) UserInfoEndpoint() string {
	return strings.TrimSuffix(c.Issuer, "/") + PathUserInfo
}

// RevocationEndpoint returns the absolute revocation endpoint URL.
func (c *Config) RevocationEndpoint() string {
	return strings.TrimSuffix(c.Issuer, "/") + PathRevoke
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("issuer must be an http(s) URL, got %q", c.Issuer)
	}
	if u.Host == "" {
		return fmt.Errorf("issuer URL must have a host")
	}
	if c.SignInURL != "" {
		if _, err := url.Parse(c.SignInURL); err != nil {
			return fmt.Errorf("invalid sign-in URL: %w", err)
		}
	}
	return nil
}
