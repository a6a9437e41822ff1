package cli

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/spf13/cobra"
)

func newDeviceCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Sign in with the device code flow",
		Long: `Sign in on another device. The user code and verification URL are printed;
the command polls until sign-in completes or the code expires. The refresh
token is saved to GRAPH_STORE_FILE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app := st.app
			out := cmd.OutOrStdout()
			scopes := app.delegatedScopes()

			b, err := app.builder(scopes...)
			if err != nil {
				return err
			}
			cred := b.DeviceCode(authsdk.WithDeviceCodeCallback(func(dc authsdk.DeviceCode) {
				if dc.Message != "" {
					fmt.Fprintln(out, dc.Message)
					return
				}
				fmt.Fprintf(out, "Visit %s and enter the code %s\n", dc.VerificationURI, dc.UserCode)
			}))

			tok, err := cred.AcquireToken(ctx, app.exec)
			if err != nil {
				return err
			}

			if err := app.saveSignIn(ctx, tok, scopes); err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in, token expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newLogoutCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential and its cached tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app := st.app

			cred, s, err := app.resolveCredential(false)
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored credential.")
				return nil
			}

			if _, err := app.cache.Evict(ctx, app.graphClient(cred).Key()); err != nil {
				return err
			}
			if err := s.store.Delete(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.store.Path())
			return nil
		},
	}
}
