package authsdk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

// PasswordCredential is the resource owner password credentials grant. It
// cannot satisfy MFA, consent or any other interactive challenge; such
// responses are returned as errors matching ErrInteractionRequired.
type PasswordCredential struct {
	common
	username string
	password string
}

func (c *PasswordCredential) Flow() authority.Flow { return authority.FlowPassword }

// AccountHint is the lower-cased user name.
func (c *PasswordCredential) AccountHint() string { return lowerHint(c.username) }

func (c *PasswordCredential) Scopes() *scope.Set {
	return c.scopesFor(authority.FlowPassword)
}

func (c *PasswordCredential) validate() error {
	return c.validateOnce(authority.FlowPassword, func() error {
		return c.requireScopes(authority.FlowPassword)
	})
}

func (c *PasswordCredential) form(target Target) (*Form, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if target != TargetTokenForm {
		return nil, notSupported(c.Flow(), target)
	}

	f := NewForm().
		Required("client_id", c.clientID).
		Required("grant_type", GrantPassword).
		Required("scope", c.Scopes().String()).
		Required("username", c.username).
		Required("password", c.password)
	if err := c.auth.apply(f, c.clientID, c.authority.TokenURL()); err != nil {
		return nil, err
	}
	return c.finish(f)
}

// AcquireToken signs the user in with their password.
func (c *PasswordCredential) AcquireToken(ctx context.Context, exec *Executor) (*Token, error) {
	f, err := c.form(TargetTokenForm)
	if err != nil {
		return nil, err
	}

	tok, err := exec.Execute(ctx, f, c.authority.TokenURL())
	if err != nil {
		if IsInteractionRequired(err) {
			c.log().Warn("password sign-in needs user interaction",
				slog.String("client_id", c.clientID))
			return nil, fmt.Errorf("authsdk: password grant cannot complete an interactive challenge: %w", err)
		}
		return nil, err
	}
	annotateHomeAccount(tok)
	return tok, nil
}
