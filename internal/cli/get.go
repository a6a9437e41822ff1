package cli

import (
	"encoding/json"
	"io"

	"github.com/aussiebroadwan/graphauth/pkg/graph"
	"github.com/spf13/cobra"
)

func newGetCmd(st *state) *cobra.Command {
	var (
		all     bool
		appOnly bool
	)

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "GET a Microsoft Graph resource",
		Long: `GET a Microsoft Graph resource relative to the API version root, for example
"/me" or "/users?$select=id,displayName". With --all, collection pages are
followed through @odata.nextLink and printed as one array.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app := st.app

			cred, s, err := app.resolveCredential(appOnly)
			if err != nil {
				return err
			}
			client := app.graphClient(cred)
			defer app.persistRotated(ctx, client, s)

			if all {
				items, err := graph.List[json.RawMessage](ctx, client, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), items)
			}

			var doc json.RawMessage
			if err := client.GetJSON(ctx, args[0], &doc); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "follow @odata.nextLink and print every item")
	cmd.Flags().BoolVar(&appOnly, "app", false, "ignore the stored credential and use the client credentials grant")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
