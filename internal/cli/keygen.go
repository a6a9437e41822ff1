package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
	"github.com/aussiebroadwan/graphauth/pkg/jwtx"
	"github.com/spf13/cobra"
)

func newKeygenCmd(_ *state) *cobra.Command {
	var (
		out      string
		cn       string
		validity time.Duration
		bits     int
		showJWK  bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a self-signed certificate for client assertions",
		Long: `Create an RSA key and a self-signed certificate, written together as one PEM
file usable as GRAPH_CERT_FILE. Upload the certificate to the app
registration; the printed thumbprint is the value Entra ID displays.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}

			keyPEM, err := cryptox.GenerateRSAKey(bits)
			if err != nil {
				return err
			}
			certPEM, err := cryptox.SelfSignedCertificate(keyPEM, cn, validity)
			if err != nil {
				return err
			}

			bundle := append(append([]byte{}, certPEM...), keyPEM...)
			signer, err := jwtx.NewCertificateSigner(bundle, nil)
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, bundle, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "wrote:      %s\n", out)
			fmt.Fprintf(w, "thumbprint: %s\n", signer.KID())
			fmt.Fprintf(w, "x5t:        %s\n", signer.Thumbprint())
			if showJWK {
				return writeJSON(w, signer.PublicJWK())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "PEM file to write the certificate and key to")
	cmd.Flags().StringVar(&cn, "cn", "graphauth", "certificate common name")
	cmd.Flags().DurationVar(&validity, "validity", 365*24*time.Hour, "certificate lifetime")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	cmd.Flags().BoolVar(&showJWK, "jwk", false, "also print the public key as a JWK")
	return cmd
}
