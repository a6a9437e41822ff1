package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/spf13/cobra"
)

// callbackResult carries the authorization redirect to the waiting command.
type callbackResult struct {
	code, state string
	err         error
}

func newLoginCmd(st *state) *cobra.Command {
	var (
		loginHint string
		prompt    string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the authorization code flow and PKCE",
		Long: `Sign in through the browser. A loopback server on GRAPH_REDIRECT_URI receives
the authorization redirect; the refresh token is saved to GRAPH_STORE_FILE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app := st.app
			scopes := app.delegatedScopes()

			b, err := app.builder(scopes...)
			if err != nil {
				return err
			}
			opts := []authsdk.Option{authsdk.WithLoginHint(loginHint)}
			if prompt != "" {
				opts = append(opts, authsdk.WithPrompt(authsdk.Prompt(prompt)))
			}
			if app.cfg.ClientSecret != "" {
				opts = append(opts, authsdk.WithClientSecret(app.cfg.ClientSecret))
			}
			cred := b.AuthCodePKCE(opts...)

			authURL, err := cred.AuthorizationURL()
			if err != nil {
				return err
			}

			res, err := app.awaitCallback(ctx, func(string) {
				fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in a browser to sign in:\n\n  %s\n\n", authURL)
			})
			if err != nil {
				return err
			}
			if res.err != nil {
				return res.err
			}

			if err := cred.WithCode(res.code, res.state); err != nil {
				return err
			}
			tok, err := cred.AcquireToken(ctx, app.exec)
			if err != nil {
				return err
			}

			if err := app.saveSignIn(ctx, tok, scopes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in, token expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&loginHint, "login-hint", "", "pre-fill the account name on the sign-in page")
	cmd.Flags().StringVar(&prompt, "prompt", "", "login, consent, select_account or none")
	return cmd
}

// awaitCallback serves the redirect URI on the loopback interface until one
// authorization response arrives. ready runs with the bound address once the
// listener is up.
func (app *Application) awaitCallback(ctx context.Context, ready func(addr string)) (callbackResult, error) {
	u, err := url.Parse(app.cfg.RedirectURI)
	if err != nil {
		return callbackResult{}, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return callbackResult{}, fmt.Errorf("redirect URI %s is not a loopback http URI", u)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return callbackResult{}, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		code, state, err := authsdk.CallbackParams(r.Form)

		select {
		case results <- callbackResult{code: code, state: state, err: err}:
		default:
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintln(w, "Sign-in failed. You can close this window.")
			return
		}
		_, _ = fmt.Fprintln(w, "Signed in. You can close this window.")
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("callback server failed", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Debug("waiting for authorization redirect", slog.String("addr", ln.Addr().String()))
	ready(ln.Addr().String())

	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		return callbackResult{}, fmt.Errorf("%w: %w", authsdk.ErrCancelled, ctx.Err())
	}
}
