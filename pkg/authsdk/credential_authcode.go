package authsdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

// AuthCodeStage is the position of an authorization code credential in its
// lifecycle.
type AuthCodeStage int

const (
	StageConfiguring AuthCodeStage = iota
	StageAuthorizationIssued
	StageCodeReceived
	StageExchangeable
	StageTokenAcquired
)

func (s AuthCodeStage) String() string {
	switch s {
	case StageConfiguring:
		return "configuring"
	case StageAuthorizationIssued:
		return "authorization_issued"
	case StageCodeReceived:
		return "code_received"
	case StageExchangeable:
		return "exchangeable"
	case StageTokenAcquired:
		return "token_acquired"
	default:
		return "unknown"
	}
}

// AuthorizationRequest is the per-attempt state of an authorize redirect.
type AuthorizationRequest struct {
	State        string
	Nonce        string
	PKCE         *PKCEChallenge
	ResponseMode string
	Prompt       Prompt
	LoginHint    string
	DomainHint   string
}

// AuthCodeCredential drives the authorization code flow:
//
//	Configuring -> AuthorizationIssued -> CodeReceived -> Exchangeable -> TokenAcquired
//
// AuthorizationURL leaves Configuring, WithCode consumes the redirect and
// AcquireToken redeems the code. Once a token was acquired, AcquireToken
// renews it with the refresh token.
type AuthCodeCredential struct {
	common
	opts    options
	usePKCE bool

	mu           sync.Mutex
	stage        AuthCodeStage
	request      AuthorizationRequest
	code         string
	refreshToken string
}

func (c *AuthCodeCredential) Flow() authority.Flow { return authority.FlowAuthCode }

// AccountHint is the lower-cased login hint, if one was configured.
func (c *AuthCodeCredential) AccountHint() string { return lowerHint(c.opts.loginHint) }

func (c *AuthCodeCredential) Scopes() *scope.Set {
	return c.scopesFor(authority.FlowAuthCode)
}

// Stage returns the current lifecycle stage.
func (c *AuthCodeCredential) Stage() AuthCodeStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Request returns the issued authorization request. Callers that lose the
// credential across a redirect persist State and PKCE.Verifier from it.
func (c *AuthCodeCredential) Request() AuthorizationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request
}

func (c *AuthCodeCredential) validate() error {
	return c.validateOnce(authority.FlowAuthCode, func() error {
		if c.redirectURI == "" {
			return &MissingParameterError{Name: "redirect_uri"}
		}
		if _, err := url.Parse(c.redirectURI); err != nil {
			return fmt.Errorf("%w: redirect_uri: %w", ErrInvalidConfig, err)
		}
		if !c.opts.prompt.valid() {
			return fmt.Errorf("%w: unknown prompt %q", ErrInvalidConfig, c.opts.prompt)
		}
		switch c.opts.responseMode {
		case ResponseModeQuery, ResponseModeFragment, ResponseModeFormPost:
		default:
			return fmt.Errorf("%w: unknown response_mode %q", ErrInvalidConfig, c.opts.responseMode)
		}
		return c.requireScopes(authority.FlowAuthCode)
	})
}

// form must be called with c.mu held.
func (c *AuthCodeCredential) form(target Target) (*Form, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	switch target {
	case TargetAuthorizeQuery:
		return c.authorizeForm()
	case TargetTokenForm:
		return c.tokenForm()
	}
	return nil, notSupported(c.Flow(), target)
}

func (c *AuthCodeCredential) serialize(target Target) (*Form, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form(target)
}

func (c *AuthCodeCredential) authorizeForm() (*Form, error) {
	r := c.request
	f := NewForm().
		Required("client_id", c.clientID).
		Required("response_type", "code").
		Required("redirect_uri", c.redirectURI).
		Required("scope", c.Scopes().String()).
		Required("response_mode", r.ResponseMode).
		Required("state", r.State).
		Optional("nonce", r.Nonce).
		Optional("prompt", string(r.Prompt)).
		Optional("login_hint", r.LoginHint).
		Optional("domain_hint", r.DomainHint)

	if c.usePKCE {
		if r.PKCE == nil {
			return nil, &MissingParameterError{Name: "code_challenge"}
		}
		f.Required("code_challenge", r.PKCE.Challenge).
			Required("code_challenge_method", r.PKCE.Method)
	}
	return c.finish(f)
}

func (c *AuthCodeCredential) tokenForm() (*Form, error) {
	f := NewForm().
		Required("client_id", c.clientID).
		Required("grant_type", GrantAuthorizationCode).
		Required("scope", c.Scopes().String()).
		Required("code", c.code).
		Required("redirect_uri", c.redirectURI)

	if c.usePKCE {
		verifier := ""
		if c.request.PKCE != nil {
			verifier = c.request.PKCE.Verifier
		}
		f.Required("code_verifier", verifier)
	}

	if err := c.auth.apply(f, c.clientID, c.authority.TokenURL()); err != nil {
		return nil, err
	}
	return c.finish(f)
}

// AuthorizationURL issues a new authorization request and returns the URL
// to send the user's browser to. It is legal once, in Configuring.
func (c *AuthCodeCredential) AuthorizationURL() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != StageConfiguring {
		return "", fmt.Errorf("%w: authorization URL already issued (stage %s)", ErrInvalidState, c.stage)
	}
	if err := c.validate(); err != nil {
		return "", err
	}

	req, err := c.newRequest()
	if err != nil {
		return "", err
	}
	c.request = req

	f, err := c.form(TargetAuthorizeQuery)
	if err != nil {
		c.request = AuthorizationRequest{}
		return "", err
	}
	query, err := f.Encode()
	if err != nil {
		c.request = AuthorizationRequest{}
		return "", err
	}

	c.stage = StageAuthorizationIssued
	return c.authority.AuthorizeURL() + "?" + query, nil
}

func (c *AuthCodeCredential) newRequest() (AuthorizationRequest, error) {
	state, err := cryptox.NewState()
	if err != nil {
		return AuthorizationRequest{}, err
	}

	req := AuthorizationRequest{
		State:        state,
		ResponseMode: c.opts.responseMode,
		Prompt:       c.opts.prompt,
		LoginHint:    c.opts.loginHint,
		DomainHint:   c.opts.domainHint,
	}

	if c.Scopes().Contains(scope.OpenID) {
		if req.Nonce, err = cryptox.NewNonce(); err != nil {
			return AuthorizationRequest{}, err
		}
	}

	if c.usePKCE {
		if req.PKCE, err = GeneratePKCEChallenge(); err != nil {
			return AuthorizationRequest{}, err
		}
	}
	return req, nil
}

// WithCode accepts the code and state from the authorization redirect. A
// state that differs from the issued one fails with ErrStateMismatch and
// leaves the credential unchanged.
func (c *AuthCodeCredential) WithCode(code, returnedState string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != StageAuthorizationIssued {
		return fmt.Errorf("%w: no authorization request outstanding (stage %s)", ErrInvalidState, c.stage)
	}
	if !cryptox.Equal(returnedState, c.request.State) {
		c.log().Warn("authorization redirect state mismatch", slog.String("client_id", c.clientID))
		return ErrStateMismatch
	}
	if code == "" {
		return &MissingParameterError{Name: "code"}
	}

	c.code = code
	c.stage = StageCodeReceived

	if c.usePKCE && !c.request.PKCE.Verify() {
		return fmt.Errorf("%w: PKCE verifier does not match challenge", ErrInvalidState)
	}
	c.stage = StageExchangeable
	return nil
}

// AcquireToken redeems the authorization code in Exchangeable. In
// TokenAcquired it renews the token with the refresh token received with
// the first one.
func (c *AuthCodeCredential) AcquireToken(ctx context.Context, exec *Executor) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.stage {
	case StageExchangeable:
		return c.redeem(ctx, exec)
	case StageTokenAcquired:
		return c.renew(ctx, exec)
	default:
		return nil, fmt.Errorf("%w: cannot acquire a token in stage %s", ErrInvalidState, c.stage)
	}
}

func (c *AuthCodeCredential) redeem(ctx context.Context, exec *Executor) (*Token, error) {
	f, err := c.form(TargetTokenForm)
	if err != nil {
		return nil, err
	}

	tok, err := exec.Execute(ctx, f, c.authority.TokenURL())
	if err != nil {
		if IsInvalidGrant(err) {
			// Codes are single use; a rejected one needs a new authorization
			c.code = ""
			c.stage = StageConfiguring
		}
		return nil, err
	}

	if err := c.checkIDToken(ctx, tok, c.request.Nonce); err != nil {
		return nil, err
	}

	c.code = ""
	c.refreshToken = tok.RefreshToken
	c.stage = StageTokenAcquired

	c.log().Info("redeemed authorization code",
		slog.String("client_id", c.clientID),
		slog.Bool("refresh_token", tok.RefreshToken != ""),
		slog.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// SetRefreshToken adopts a refresh token redeemed elsewhere. A credential
// that has not signed in yet moves to TokenAcquired so AcquireToken renews
// with it; one in the middle of an authorization keeps its stage.
func (c *AuthCodeCredential) SetRefreshToken(refreshToken string) {
	if refreshToken == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshToken = refreshToken
	if c.stage == StageConfiguring {
		c.stage = StageTokenAcquired
	}
}

func (c *AuthCodeCredential) renew(ctx context.Context, exec *Executor) (*Token, error) {
	if c.refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token to renew with, sign in again", ErrInvalidState)
	}

	tok, err := Refresh(ctx, exec, c, c.refreshToken)
	if err != nil {
		if IsInvalidGrant(err) {
			c.refreshToken = ""
		}
		return nil, err
	}
	if tok.RefreshToken != "" {
		c.refreshToken = tok.RefreshToken
	}
	return tok, nil
}

func (c *AuthCodeCredential) checkIDToken(ctx context.Context, tok *Token, nonce string) error {
	if tok.IDToken == "" {
		return nil
	}

	claims, err := c.opts.validator.Validate(ctx, tok.IDToken, c.clientID, nonce, c.authority)
	if err != nil {
		return err
	}
	tok.HomeAccountID = claims.HomeAccountID()
	return nil
}
