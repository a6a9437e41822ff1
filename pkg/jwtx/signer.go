// Package jwtx signs client assertions and verifies RS256 tokens against a key set.
package jwtx

import "github.com/golang-jwt/jwt/v5"

// Signer signs JWTs presented to the identity provider, most notably the
// client_assertion of confidential clients.
type Signer interface {
	Alg() string
	KID() string
	// Thumbprint returns the base64url SHA-1 certificate thumbprint sent as
	// the x5t header, or "" for bare keys.
	Thumbprint() string
	Sign(jwt.Claims) (string, error)
	PublicJWK() JWK
	Validate() error
}
