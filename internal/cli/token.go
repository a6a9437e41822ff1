package cli

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"github.com/spf13/cobra"
)

func newTokenCmd(st *state) *cobra.Command {
	var (
		raw     bool
		appOnly bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Acquire an access token",
		Long: `Acquire an access token with the stored credential, or with the client
credentials grant when no credential is stored or --app is given.

The token is printed redacted unless --raw is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app := st.app

			cred, s, err := app.resolveCredential(appOnly)
			if err != nil {
				return err
			}

			client := app.graphClient(cred)
			tok, err := client.Token(ctx)
			if err != nil {
				return err
			}
			app.persistRotated(ctx, client, s)

			out := cmd.OutOrStdout()
			if raw {
				_, err := fmt.Fprintln(out, tok.AccessToken)
				return err
			}

			fmt.Fprintf(out, "flow:         %s\n", cred.Flow())
			fmt.Fprintf(out, "scopes:       %s\n", cred.Scopes())
			fmt.Fprintf(out, "token_type:   %s\n", tok.TokenType)
			fmt.Fprintf(out, "expires_at:   %s\n", tok.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(out, "access_token: %s\n", slogx.Redact(tok.AccessToken))
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print only the access token, unredacted")
	cmd.Flags().BoolVar(&appOnly, "app", false, "ignore the stored credential and use the client credentials grant")
	return cmd
}
