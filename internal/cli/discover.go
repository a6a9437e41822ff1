package cli

import (
	"github.com/spf13/cobra"
)

func newDiscoverCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print the OpenID Connect metadata of the configured authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := st.app

			a, err := app.authority()
			if err != nil {
				return err
			}
			md, err := app.discoverer.Discover(cmd.Context(), a)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), md)
		},
	}
}
