package authsdk

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

// OnBehalfOfCredential exchanges the access token a middle-tier service
// received for a token to a downstream API, keeping the user's identity.
type OnBehalfOfCredential struct {
	common
	assertion string
}

func (c *OnBehalfOfCredential) Flow() authority.Flow { return authority.FlowOnBehalfOf }

// AccountHint is a fingerprint of the incoming assertion, so tokens of
// different callers never share a cache entry.
func (c *OnBehalfOfCredential) AccountHint() string {
	if c.assertion == "" {
		return ""
	}
	return cryptox.FingerprintToken(c.assertion)
}

func (c *OnBehalfOfCredential) Scopes() *scope.Set {
	return c.scopesFor(authority.FlowOnBehalfOf)
}

func (c *OnBehalfOfCredential) validate() error {
	return c.validateOnce(authority.FlowOnBehalfOf, func() error {
		if !c.auth.confidential() {
			return fmt.Errorf("%w: on-behalf-of requires a client secret or certificate", ErrInvalidConfig)
		}
		return c.requireScopes(authority.FlowOnBehalfOf)
	})
}

func (c *OnBehalfOfCredential) form(target Target) (*Form, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if target != TargetTokenForm {
		return nil, notSupported(c.Flow(), target)
	}

	f := NewForm().
		Required("client_id", c.clientID).
		Required("grant_type", GrantJWTBearer).
		Required("assertion", c.assertion).
		Required("scope", c.Scopes().String()).
		Required("requested_token_use", "on_behalf_of")
	if err := c.auth.apply(f, c.clientID, c.authority.TokenURL()); err != nil {
		return nil, err
	}
	return c.finish(f)
}

// AcquireToken performs the exchange.
func (c *OnBehalfOfCredential) AcquireToken(ctx context.Context, exec *Executor) (*Token, error) {
	f, err := c.form(TargetTokenForm)
	if err != nil {
		return nil, err
	}

	tok, err := exec.Execute(ctx, f, c.authority.TokenURL())
	if err != nil {
		return nil, err
	}
	annotateHomeAccount(tok)
	return tok, nil
}
