package jwtx

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RS256Signer implements Signer using RSA SHA-256.
type RS256Signer struct {
	kid string
	key *rsa.PrivateKey
	pub *rsa.PublicKey
	alg string

	x5t   string   // base64url SHA-1 of the leaf certificate
	chain []string // standard base64 DER, leaf first
	x5c   []string // chain as sent in the header, empty unless WithX5C
}

// CertOption customises a certificate signer.
type CertOption func(*RS256Signer)

// WithX5C includes the certificate chain in the x5c header. Required for
// subject name and issuer authentication.
func WithX5C() CertOption {
	return func(s *RS256Signer) { s.x5c = s.chain }
}

// NewSignerRS256 creates a signer from a bare PEM private key.
func NewSignerRS256(kid string, pemKey []byte) (*RS256Signer, error) {
	key, err := parseRSAPrivateKey(pemKey)
	if err != nil {
		return nil, err
	}

	return &RS256Signer{
		kid: kid,
		key: key,
		pub: &key.PublicKey,
		alg: jwt.SigningMethodRS256.Alg(),
	}, nil
}

// NewCertificateSigner creates a signer for a certificate credential. keyPEM
// may be empty when certPEM bundles the private key as well. The key id is
// the hex thumbprint, which is how the portal displays certificates.
func NewCertificateSigner(certPEM, keyPEM []byte, opts ...CertOption) (*RS256Signer, error) {
	if len(keyPEM) == 0 {
		keyPEM = certPEM
	}

	key, err := parseRSAPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	var chain []*x509.Certificate
	rest := certPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("jwtx: no certificate in PEM")
	}

	leafPub, ok := chain[0].PublicKey.(*rsa.PublicKey)
	if !ok || !leafPub.Equal(&key.PublicKey) {
		return nil, errors.New("jwtx: certificate does not match private key")
	}

	sum := sha1.Sum(chain[0].Raw)
	s := &RS256Signer{
		kid: strings.ToUpper(hex.EncodeToString(sum[:])),
		key: key,
		pub: &key.PublicKey,
		alg: jwt.SigningMethodRS256.Alg(),
		x5t: base64.RawURLEncoding.EncodeToString(sum[:]),
	}
	for _, c := range chain {
		s.chain = append(s.chain, base64.StdEncoding.EncodeToString(c.Raw))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// parseRSAPrivateKey handles both PKCS1 and PKCS8 because otherwise we will
// be chasing a bug for longer that we would be willing to admit.
func parseRSAPrivateKey(pemKey []byte) (*rsa.PrivateKey, error) {
	rest := pemKey
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("jwtx: invalid PEM for RSA key")
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("jwtx: parse RSA key: %w", err)
			}
			return key, nil
		case "PRIVATE KEY":
			priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
			}
			rk, ok := priv.(*rsa.PrivateKey)
			if !ok {
				return nil, errors.New("jwtx: not RSA private key")
			}
			return rk, nil
		}
	}
}

func (s *RS256Signer) Alg() string        { return s.alg }
func (s *RS256Signer) KID() string        { return s.kid }
func (s *RS256Signer) Thumbprint() string { return s.x5t }

// Sign serialises claims into a compact JWS.
func (s *RS256Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	if s.x5t != "" {
		t.Header["x5t"] = s.x5t
	}
	if len(s.x5c) > 0 {
		t.Header["x5c"] = s.x5c
	}
	return t.SignedString(s.key)
}

// PublicJWK returns the verification key, as a mock identity provider or a
// JWKS endpoint would publish it.
func (s *RS256Signer) PublicJWK() JWK {
	j := NewRSAJWK(s.kid, "sig", s.alg, s.pub)
	j.X5t = s.x5t
	return j
}

// Validate does a quick sanity check to make sure we actually have keys.
func (s *RS256Signer) Validate() error {
	if s.key == nil || s.pub == nil {
		return errors.New("jwtx: nil RSA key")
	}
	return nil
}
