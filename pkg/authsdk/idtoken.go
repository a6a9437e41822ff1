package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
	"github.com/aussiebroadwan/graphauth/pkg/jwtx"
)

// IDTokenValidator checks id_tokens returned by the token endpoint.
//
// A nil validator decodes the token without checking its signature, which
// is acceptable for tokens received directly from the token endpoint over
// TLS. A validator with HTTPClient set verifies the RS256 signature against
// the keys the authority publishes, fetching them on first use and again
// when an unknown key id appears.
type IDTokenValidator struct {
	HTTPClient *http.Client
	Keys       *jwtx.KeySet

	// Leeway tolerates clock skew on exp and nbf
	Leeway time.Duration

	// Now is the verification clock; nil means time.Now
	Now func() time.Time
}

// NewIDTokenValidator returns a validator that verifies signatures.
func NewIDTokenValidator(client *http.Client) *IDTokenValidator {
	if client == nil {
		client = http.DefaultClient
	}
	return &IDTokenValidator{
		HTTPClient: client,
		Keys:       jwtx.NewKeySet(),
		Leeway:     5 * time.Minute,
	}
}

// Validate checks idToken was issued to clientID and echoes nonce (when
// nonce is not empty), and returns its claims.
func (v *IDTokenValidator) Validate(ctx context.Context, idToken, clientID, nonce string, a authority.Authority) (*jwtx.Claims, error) {
	claims, err := jwtx.ParseUnverified(idToken)
	if err != nil {
		return nil, fmt.Errorf("authsdk: id_token: %w", err)
	}

	if v != nil && v.Keys != nil {
		claims, err = v.verify(ctx, idToken, clientID, a.IssuerFor(claims.TenantID), a)
		if err != nil {
			return nil, fmt.Errorf("authsdk: id_token: %w", err)
		}
	} else if !slices.Contains(claims.Audience, clientID) {
		return nil, fmt.Errorf("authsdk: id_token: %w", jwtx.ErrAudience)
	}

	if nonce != "" && !cryptox.Equal(claims.Nonce, nonce) {
		return nil, ErrNonceMismatch
	}
	return claims, nil
}

func (v *IDTokenValidator) verify(ctx context.Context, idToken, clientID, issuer string, a authority.Authority) (*jwtx.Claims, error) {
	if v.Keys.Len() == 0 {
		if err := v.LoadKeys(ctx, a); err != nil {
			return nil, err
		}
	}

	verifier := jwtx.NewVerifierRS256(v.Keys, issuer, []string{clientID})
	verifier.Now = v.Now
	if v.Leeway > 0 {
		verifier.Leeway = v.Leeway
	}

	claims, err := verifier.Verify(idToken)
	if errors.Is(err, jwtx.ErrUnknownKID) && v.HTTPClient != nil {
		// Signing keys roll over; refetch once
		if lerr := v.LoadKeys(ctx, a); lerr != nil {
			return nil, lerr
		}
		claims, err = verifier.Verify(idToken)
	}
	return claims, err
}

// LoadKeys fetches the authority's JWKS and replaces the key set.
func (v *IDTokenValidator) LoadKeys(ctx context.Context, a authority.Authority) error {
	if v.HTTPClient == nil {
		return errors.New("authsdk: id_token validator has no HTTP client")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.JWKSURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Op: "jwks", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "jwks", StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	var jwks jwtx.JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&jwks); err != nil {
		return &TransportError{Op: "jwks", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return v.Keys.ResetFromJWKS(jwks)
}

// annotateHomeAccount fills HomeAccountID from an id_token received over
// TLS from the token endpoint. Malformed id_tokens are ignored here; flows
// that must trust the id_token validate it explicitly.
func annotateHomeAccount(tok *Token) {
	if tok == nil || tok.IDToken == "" {
		return
	}
	if claims, err := jwtx.ParseUnverified(tok.IDToken); err == nil {
		tok.HomeAccountID = claims.HomeAccountID()
	}
}
