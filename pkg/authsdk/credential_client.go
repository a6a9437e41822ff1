package authsdk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

// ClientCredential is the app-only client credentials grant, authenticated
// with a secret or a certificate. It is stateless: every AcquireToken call
// requests a new token.
type ClientCredential struct {
	common
	certificate bool
}

func (c *ClientCredential) Flow() authority.Flow { return authority.FlowClientCredentials }
func (c *ClientCredential) AccountHint() string  { return "" }

func (c *ClientCredential) Scopes() *scope.Set {
	return c.scopesFor(authority.FlowClientCredentials)
}

func (c *ClientCredential) validate() error {
	return c.validateOnce(authority.FlowClientCredentials, func() error {
		if !c.auth.confidential() {
			if c.certificate {
				return fmt.Errorf("%w: no certificate signer", ErrInvalidConfig)
			}
			return &MissingParameterError{Name: "client_secret"}
		}
		if _, ok := c.Scopes().ResourceDefault(); !ok {
			return fmt.Errorf("%w: client credentials require exactly one <resource>/.default scope, got %q",
				ErrInvalidConfig, c.Scopes().String())
		}
		return nil
	})
}

func (c *ClientCredential) form(target Target) (*Form, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if target != TargetTokenForm {
		return nil, notSupported(c.Flow(), target)
	}

	f := NewForm().
		Required("client_id", c.clientID).
		Required("grant_type", GrantClientCredentials).
		Required("scope", c.Scopes().String())
	if err := c.auth.apply(f, c.clientID, c.authority.TokenURL()); err != nil {
		return nil, err
	}
	return c.finish(f)
}

// AcquireToken requests an app-only token.
func (c *ClientCredential) AcquireToken(ctx context.Context, exec *Executor) (*Token, error) {
	f, err := c.form(TargetTokenForm)
	if err != nil {
		return nil, err
	}

	tok, err := exec.Execute(ctx, f, c.authority.TokenURL())
	if err != nil {
		return nil, err
	}

	c.log().Info("acquired app-only token",
		slog.String("client_id", c.clientID),
		slog.String("tenant", c.authority.Tenant().String()),
		slog.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}
