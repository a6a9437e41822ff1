package authsdk

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
)

// PKCEMethodS256 is the only code challenge method sent to the provider.
const PKCEMethodS256 = "S256"

const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// PKCEChallenge holds the PKCE verifier and challenge pair.
// The verifier is kept secret by the client, and the challenge is sent to the authorization endpoint.
type PKCEChallenge struct {
	// Verifier is the high-entropy cryptographic random string (kept secret)
	Verifier string

	// Challenge is the base64url-encoded SHA256 hash of the verifier (sent to server)
	Challenge string

	// Method is always "S256" for SHA256
	Method string
}

// GeneratePKCEChallenge creates a new PKCE code verifier and challenge pair.
// Uses cryptox.TokenSize256 (256 bits of entropy) and SHA256 hashing per RFC 7636.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// NewPKCEChallenge wraps a verifier supplied by the caller, e.g. one restored
// after a redirect. An empty method means S256; "plain" and anything else is
// rejected.
func NewPKCEChallenge(verifier, method string) (*PKCEChallenge, error) {
	if method == "" {
		method = PKCEMethodS256
	}
	if method != PKCEMethodS256 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChallengeMethod, method)
	}
	if err := validateVerifier(verifier); err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
		Method:    method,
	}, nil
}

// S256Challenge computes BASE64URL(SHA256(verifier)) without padding.
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Verify reports whether Challenge was derived from Verifier.
func (p *PKCEChallenge) Verify() bool {
	if p == nil || p.Method != PKCEMethodS256 || validateVerifier(p.Verifier) != nil {
		return false
	}
	return cryptox.Equal(S256Challenge(p.Verifier), p.Challenge)
}

// validateVerifier enforces the RFC 7636 length and unreserved alphabet.
func validateVerifier(v string) error {
	if len(v) < minVerifierLen || len(v) > maxVerifierLen {
		return fmt.Errorf("%w: code verifier must be %d-%d characters", ErrInvalidConfig, minVerifierLen, maxVerifierLen)
	}
	if i := strings.IndexFunc(v, func(r rune) bool { return !isUnreserved(r) }); i >= 0 {
		return fmt.Errorf("%w: code verifier has invalid character at %d", ErrInvalidConfig, i)
	}
	return nil
}

func isUnreserved(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '.', r == '_', r == '~':
		return true
	}
	return false
}
