package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAssertionTTL bounds the lifetime of a client assertion. The
// identity provider rejects assertions valid for more than ten minutes.
const DefaultAssertionTTL = 10 * time.Minute

// Claims are the id_token claims the SDK reads. Unknown claims are ignored.
type Claims struct {
	jwt.RegisteredClaims

	// Nonce echoes the value sent in the authorization request
	Nonce string `json:"nonce,omitempty"`

	// TenantID (tid) is the directory the user signed in to
	TenantID string `json:"tid,omitempty"`

	// ObjectID (oid) is the user's immutable id within TenantID
	ObjectID string `json:"oid,omitempty"`

	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`

	// Version is "1.0" or "2.0" depending on the endpoint that minted it
	Version string `json:"ver,omitempty"`
}

// HomeAccountID returns "oid.tid", the identifier used to key a user's
// tokens across tenants. Empty when either claim is missing.
func (c *Claims) HomeAccountID() string {
	if c.ObjectID == "" || c.TenantID == "" {
		return ""
	}
	return c.ObjectID + "." + c.TenantID
}

// NewAssertionClaims builds the claims of a client assertion: the client is
// both issuer and subject and the token endpoint is the audience.
func NewAssertionClaims(clientID, audience string, ttl time.Duration, now time.Time) jwt.RegisteredClaims {
	if ttl <= 0 || ttl > DefaultAssertionTTL {
		ttl = DefaultAssertionTTL
	}
	return jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        NewJTI(),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. The
// identity provider uses it to detect replayed assertions.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry checks exp and nbf against now with a grace period for
// clock skew.
func (c *Claims) ValidateExpiry(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}

// ParseUnverified decodes claims without checking the signature. Only use
// it for routing decisions on tokens received directly from the token
// endpoint over TLS, never for authorization.
func ParseUnverified(token string) (*Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, ErrMalformed
	}
	return &c, nil
}
