package authsdk

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

// RefreshTokenCredential redeems a refresh token obtained elsewhere. The
// refresh token slot is replaced whenever the provider rotates it and
// cleared when the provider rejects it.
type RefreshTokenCredential struct {
	common

	mu           sync.Mutex
	refreshToken string
}

func (c *RefreshTokenCredential) Flow() authority.Flow { return authority.FlowRefreshToken }
func (c *RefreshTokenCredential) AccountHint() string  { return "" }

func (c *RefreshTokenCredential) Scopes() *scope.Set {
	return c.scopesFor(authority.FlowRefreshToken)
}

// Current returns the refresh token that the next AcquireToken will send.
func (c *RefreshTokenCredential) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

// SetRefreshToken replaces the refresh token the next AcquireToken sends.
func (c *RefreshTokenCredential) SetRefreshToken(refreshToken string) {
	if refreshToken == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshToken = refreshToken
}

func (c *RefreshTokenCredential) validate() error {
	return c.validateOnce(authority.FlowRefreshToken, nil)
}

func (c *RefreshTokenCredential) form(target Target) (*Form, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if target != TargetTokenForm {
		return nil, notSupported(c.Flow(), target)
	}
	return c.refreshForm(c.Current())
}

// AcquireToken redeems the held refresh token.
func (c *RefreshTokenCredential) AcquireToken(ctx context.Context, exec *Executor) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.refreshToken == "" {
		return nil, &MissingParameterError{Name: "refresh_token"}
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
