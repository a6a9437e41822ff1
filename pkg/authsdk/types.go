package authsdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/slogx"
)

// DefaultSkew is subtracted from every token lifetime so a token is renewed
// before the resource server starts rejecting it.
const DefaultSkew = 5 * time.Minute

// ============================================================================
// Wire Types
// ============================================================================

// Seconds is a duration in whole seconds as found in token and device code
// responses. The v1 endpoints send it as a JSON string, v2 as a number;
// both decode.
type Seconds int64

// UnmarshalJSON accepts 3600 and "3600".
func (s *Seconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("authsdk: invalid seconds %q", str)
		}
		*s = Seconds(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = Seconds(n)
	return nil
}

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) * time.Second }

// TokenResponse is the token endpoint success document.
type TokenResponse struct {
	// AccessToken is the bearer token presented to the resource
	AccessToken string `json:"access_token"`

	// TokenType is "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime
	ExpiresIn Seconds `json:"expires_in"`

	// ExtExpiresIn is the extended lifetime usable during provider outages
	ExtExpiresIn Seconds `json:"ext_expires_in,omitempty"`

	// RefreshToken is only issued when offline_access was granted
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is only issued when openid was requested
	IDToken string `json:"id_token,omitempty"`

	// Scope is the space separated list of scopes actually granted
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is the OAuth2 error document with the Microsoft extensions.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	ErrorCodes       []int  `json:"error_codes,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	TraceID          string `json:"trace_id,omitempty"`
	CorrelationID    string `json:"correlation_id,omitempty"`
	SubError         string `json:"suberror,omitempty"`
}

// toError converts the document into an *IdentityProviderError.
func (r *ErrorResponse) toError(status int) *IdentityProviderError {
	return &IdentityProviderError{
		StatusCode:    status,
		Code:          r.Error,
		Description:   r.ErrorDescription,
		ErrorURI:      r.ErrorURI,
		ErrorCodes:    r.ErrorCodes,
		CorrelationID: r.CorrelationID,
		TraceID:       r.TraceID,
		SubError:      r.SubError,
		Timestamp:     r.Timestamp,
	}
}

// DeviceCodeResponse is the device authorization endpoint document
// (RFC 8628 section 3.2).
type DeviceCodeResponse struct {
	DeviceCode      string  `json:"device_code"`
	UserCode        string  `json:"user_code"`
	VerificationURI string  `json:"verification_uri"`
	VerificationURL string  `json:"verification_url,omitempty"` // v1 spelling
	ExpiresIn       Seconds `json:"expires_in"`
	Interval        Seconds `json:"interval,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// ============================================================================
// Token
// ============================================================================

// Token is an access token together with the timing needed to decide when
// it must be renewed.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// ExpiresIn is the lifetime reported by the identity provider
	ExpiresIn time.Duration `json:"expires_in"`

	// IssuedAt was captured before the request was sent. Tokens minted in
	// this process carry a monotonic clock reading.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresAt is IssuedAt + ExpiresIn - skew
	ExpiresAt time.Time `json:"expires_at"`

	// HomeAccountID is "oid.tid" from the id_token, empty for app-only tokens
	HomeAccountID string `json:"home_account_id,omitempty"`
}

// NewToken builds a Token from a wire response.
func NewToken(resp *TokenResponse, issuedAt time.Time, skew time.Duration) *Token {
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	expiresIn := resp.ExpiresIn.Duration()
	return &Token{
		AccessToken:  resp.AccessToken,
		TokenType:    tokenType,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		Scope:        resp.Scope,
		ExpiresIn:    expiresIn,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(expiresIn - skew),
	}
}

// Valid reports whether the access token may still be used at now.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Clone returns a shallow copy.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// LogValue masks the secret fields.
func (t *Token) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("token_type", t.TokenType),
		slogx.Secret("access_token", t.AccessToken),
		slog.Bool("has_refresh_token", t.RefreshToken != ""),
		slog.Time("expires_at", t.ExpiresAt),
		slog.String("scope", t.Scope),
	)
}

// String masks the secret fields.
func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s token %s expires %s", t.TokenType, slogx.Redact(t.AccessToken), t.ExpiresAt.Format(time.RFC3339))
}
