package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/aussiebroadwan/graphauth/pkg/credstore"
	"github.com/aussiebroadwan/graphauth/pkg/graph"
	"github.com/aussiebroadwan/graphauth/pkg/tokencache"
)

// defaultDelegatedScope is requested by interactive sign-in when
// GRAPH_SCOPES is empty. offline_access is added by the credential.
const defaultDelegatedScope = "User.Read"

// stored is a credential restored from the credential store, kept so a
// rotated refresh token can be written back.
type stored struct {
	store  *credstore.Store
	doc    *credstore.Document
	secret string
}

// resolveCredential returns the stored credential when one exists and
// appOnly is false, otherwise the client credentials grant.
func (app *Application) resolveCredential(appOnly bool) (authsdk.Credential, *stored, error) {
	if !appOnly {
		store, err := app.credentialStore()
		if err != nil {
			return nil, nil, err
		}
		if store != nil {
			doc, secret, err := store.Load()
			switch {
			case err == nil:
				cred, err := doc.Credential(secret)
				if err != nil {
					return nil, nil, err
				}
				app.logger.Debug("using stored credential",
					slog.String("flow", doc.Flow),
					slog.String("path", store.Path()))
				return cred, &stored{store: store, doc: doc, secret: secret}, nil
			case !errors.Is(err, credstore.ErrNotFound):
				return nil, nil, err
			}
		}
	}

	cred, err := app.appCredential()
	return cred, nil, err
}

// persistRotated writes the refresh token held by the cache back to the
// credential store when the identity provider rotated it.
func (app *Application) persistRotated(ctx context.Context, client *graph.Client, s *stored) {
	if s == nil || s.doc.Flow != credstore.FlowRefreshToken {
		return
	}

	rt, err := client.Cache().RefreshToken(ctx, client.Key())
	if err != nil || rt == "" || rt == s.secret {
		return
	}

	if err := s.store.Save(*s.doc, rt); err != nil {
		app.logger.Warn("failed to persist rotated refresh token", slog.String("error", err.Error()))
		return
	}
	s.secret = rt
	app.logger.Debug("persisted rotated refresh token")
}

// saveSignIn stores the refresh token of an interactive sign-in and seeds
// the token cache with the access token.
func (app *Application) saveSignIn(ctx context.Context, tok *authsdk.Token, scopes []string) error {
	store, err := app.credentialStore()
	if err != nil {
		return err
	}
	if store == nil {
		app.logger.Warn("GRAPH_STORE_FILE is not set, sign-in will not be remembered")
		return nil
	}
	if tok.RefreshToken == "" {
		return errors.New("identity provider returned no refresh token")
	}

	a, err := app.authority()
	if err != nil {
		return err
	}

	doc := credstore.Document{
		Flow:          credstore.FlowRefreshToken,
		ClientID:      app.cfg.ClientID,
		Cloud:         a.Cloud().String(),
		Tenant:        a.Tenant().String(),
		Scopes:        scopes,
		RedirectURI:   app.cfg.RedirectURI,
		AuthorityHost: app.cfg.AuthorityHost,
	}
	if err := store.Save(doc, tok.RefreshToken); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	cred, err := doc.Credential(tok.RefreshToken)
	if err != nil {
		return err
	}
	if err := app.cache.Store(ctx, tokencache.KeyFor(cred), tok); err != nil {
		app.logger.Warn("failed to cache signed-in token", slog.String("error", err.Error()))
	}

	app.logger.Info("sign-in saved", slog.String("path", store.Path()))
	return nil
}

// delegatedScopes is the scope list for interactive sign-in.
func (app *Application) delegatedScopes() []string {
	if len(app.cfg.Scopes) > 0 {
		return app.cfg.Scopes
	}
	return []string{defaultDelegatedScope}
}
