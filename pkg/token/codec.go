// Package token implements the signed capability tokens used across the
// bazaar services. Every token is bound to exactly one scope and signed
// with that scope's key, so a token minted for one scope can never pass
// verification under another.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope identifies which credential class a token belongs to
type Scope string

const (
	// ScopeAccount is a browser session credential for a marketplace user
	ScopeAccount Scope = "account"
	// ScopeAPI is a programmatic credential for publisher tooling
	ScopeAPI Scope = "api"
	// ScopePlugin is an installed-plugin credential bound to one plugin
	ScopePlugin Scope = "plugin"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	switch s {
	case ScopeAccount, ScopeAPI, ScopePlugin:
		return true
	}
	return false
}

var (
	// ErrUnknownScope is returned for a scope the codec has no key for
	ErrUnknownScope = errors.New("unknown token scope")
	// ErrInvalidToken is returned when a token is malformed or its
	// signature does not verify under the scope's key
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned when a verified token carries no subject
	ErrMissingSubject = errors.New("token missing subject")
	// ErrMissingResourceClaim is returned when a plugin-scope token
	// verifies but carries no bound resource
	ErrMissingResourceClaim = errors.New("plugin token missing resource claim")
)

// Claims is the verified payload of a decoded token
type Claims struct {
	// Subject is the principal the token was issued to: a user ID for
	// account tokens, a publisher ID for api tokens, a plugin install ID
	// for plugin tokens.
	Subject string

	// ResourceID is the plugin the token is bound to. Set only for
	// plugin-scope tokens.
	ResourceID string

	// TokenID is the unique identifier assigned at issuance
	TokenID string

	// IssuedAt is when the token was minted
	IssuedAt time.Time
}

type wireClaims struct {
	Scope      string `json:"scope"`
	ResourceID string `json:"resource_id,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens. It holds one HMAC key per scope;
// keys are fixed for the lifetime of the codec.
type Codec struct {
	keys map[Scope][]byte
}

// NewCodec builds a codec from per-scope signing secrets
func NewCodec(accountSecret, apiSecret, pluginSecret string) (*Codec, error) {
	if accountSecret == "" || apiSecret == "" || pluginSecret == "" {
		return nil, errors.New("all scope secrets are required")
	}
	return &Codec{
		keys: map[Scope][]byte{
			ScopeAccount: []byte(accountSecret),
			ScopeAPI:     []byte(apiSecret),
			ScopePlugin:  []byte(pluginSecret),
		},
	}, nil
}

// Encode mints a signed token for the given scope. Plugin-scope tokens
// must carry a resource ID; other scopes must not.
func (c *Codec) Encode(scope Scope, subject, resourceID string) (string, error) {
	key, ok := c.keys[scope]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	if subject == "" {
		return "", ErrMissingSubject
	}
	if scope == ScopePlugin && resourceID == "" {
		return "", ErrMissingResourceClaim
	}
	if scope != ScopePlugin && resourceID != "" {
		return "", fmt.Errorf("resource claim is only valid for plugin tokens")
	}

	now := time.Now()
	claims := wireClaims{
		Scope:      string(scope),
		ResourceID: resourceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			ID:       uuid.New().String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token against the given scope's key and returns its
// claims. The embedded scope claim must match the scope being verified;
// a structurally valid token presented under the wrong scope fails the
// signature check first, since each scope has its own key.
func (c *Codec) Decode(scope Scope, raw string) (*Claims, error) {
	key, ok := c.keys[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	var claims wireClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Scope != string(scope) {
		return nil, fmt.Errorf("%w: scope mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if scope == ScopePlugin && claims.ResourceID == "" {
		return nil, ErrMissingResourceClaim
	}

	out := &Claims{
		Subject:    claims.Subject,
		ResourceID: claims.ResourceID,
		TokenID:    claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// ResolveBearer extracts the token from an Authorization header value.
// A "Bearer " scheme prefix is stripped when present; any other
// non-empty value passes through unchanged and is left for decoding to
// reject. Returns false only when no credential was presented.
func ResolveBearer(header string) (string, bool) {
	const prefix = "Bearer "
	tok := strings.TrimSpace(header)
	if len(tok) >= len(prefix) && strings.EqualFold(tok[:len(prefix)], prefix) {
		tok = strings.TrimSpace(tok[len(prefix):])
	}
	if tok == "" {
		return "", false
	}
	return tok, true
}

// HashToken returns the hex-encoded SHA-256 of a raw token. Revocation
// entries and logs carry the hash, never the token itself.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
