package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
	// TokenSize512 provides 512 bits of entropy (86 chars base64url).
	TokenSize512 = 64
)

// GenerateToken returns size bytes from crypto/rand encoded as unpadded
// base64url, so the result only contains RFC 3986 unreserved characters.
//
// Typical uses:
//   - TokenSize128: OAuth state and OIDC nonce values
//   - TokenSize256: PKCE code verifiers (43 chars)
//   - TokenSize512: long-lived opaque handles
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewState returns a fresh value for the OAuth2 state parameter.
func NewState() (string, error) {
	return GenerateToken(TokenSize128)
}

// NewNonce returns a fresh value for the OpenID Connect nonce parameter.
func NewNonce() (string, error) {
	return GenerateToken(TokenSize128)
}

// FingerprintToken returns the base64url SHA-256 digest of token (43 chars).
// It is used wherever a secret or a set of values has to become a stable,
// non-reversible identifier such as a cache key component.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
