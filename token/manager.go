// Package token mints and verifies the signed access tokens issued to
// registered applications. Refresh tokens are opaque and handled by the
// server and storage layers; only access tokens carry claims.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenType is the value of the "typ" claim stamped into every access token.
// It fences hub access tokens off from any other JWT class a deployment may
// mint with the same key.
const tokenType = "hub_access"

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA256 using a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// Verification errors. Callers treat all of them as an invalid token; the
// distinctions exist for logging and tests.
var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrWrongType    = errors.New("unexpected token type")
)

// Config holds the token manager configuration.
type Config struct {
	// Issuer is stamped into and required from every token.
	Issuer string

	// AccessTTL is the access token lifetime. Must be positive.
	AccessTTL time.Duration

	// SigningMethod selects the algorithm. Defaults to MethodHS256.
	SigningMethod SigningMethod

	// Key is the HMAC secret (hs256) or Ed25519 private key seed/PEM (ed25519).
	Key []byte

	// Leeway tolerated on time-based claim validation. Defaults to 0,
	// capped at 2 minutes.
	Leeway time.Duration
}

// AccessClaims are the claims carried by a hub access token.
type AccessClaims struct {
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager mints and verifies access tokens. It is immutable after
// construction and safe for concurrent use.
type Manager struct {
	config     Config
	signKey    any
	verifyKey  any
	signMethod jwt.SigningMethod
}

// NewManager validates the configuration and returns a ready manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	m := &Manager{config: cfg}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Key) == 0 {
			return nil, errors.New("hs256 requires a signing key")
		}
		m.signMethod = jwt.SigningMethodHS256
		m.signKey = cfg.Key
		m.verifyKey = cfg.Key
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		m.signMethod = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verifyKey = priv.Public()
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// SigningAlgorithm returns the JOSE algorithm name, for discovery metadata.
func (m *Manager) SigningAlgorithm() string {
	return m.signMethod.Alg()
}

// Mint creates a signed access token for the user/client pair. The subject is
// the hub user ID and the audience is the public client_id, so resources can
// verify both who the token is for and which application requested it.
func (m *Manager) Mint(userID, clientID string, scopes []string, now time.Time) (string, error) {
	if userID == "" || clientID == "" {
		return "", errors.New("userID and clientID are required")
	}

	claims := AccessClaims{
		Scope:     strings.Join(scopes, " "),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}

	return jwt.NewWithClaims(m.signMethod, claims).SignedString(m.signKey)
}

// Verify checks the token's signature, issuer, expiry, and type, and returns
// its claims. It does NOT consult server-side revocation state; callers must
// additionally check the stored token pair.
func (m *Manager) Verify(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signMethod.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		return m.verifyKey, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongType
	}

	return claims, nil
}

// Scopes splits the space-joined scope claim.
func (c *AccessClaims) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}
