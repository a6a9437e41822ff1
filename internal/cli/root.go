// Package cli implements the graphauth command line: token acquisition for
// every supported grant, interactive sign-in and authenticated Graph calls.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// state is shared between the root command and its subcommands. app is set
// once the persistent pre-run has wired the configuration.
type state struct {
	cfg     Config
	app     *Application
	profile string
	verbose bool
	metrics bool
}

// NewRootCommand builds the command tree for cfg.
func NewRootCommand(cfg Config) *cobra.Command {
	st := &state{cfg: cfg}

	root := &cobra.Command{
		Use:   "graphauth",
		Short: "Acquire Microsoft identity platform tokens and call Microsoft Graph",
		Long: `graphauth acquires OAuth2 tokens from the Microsoft identity platform and
uses them to call Microsoft Graph.

Configuration comes from the environment (GRAPH_CLIENT_ID, GRAPH_TENANT_ID,
GRAPH_CLIENT_SECRET, ...), a .env file and an optional YAML profile.`,
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if st.profile != "" {
				if err := st.cfg.ApplyProfile(st.profile); err != nil {
					return err
				}
			}
			if st.verbose {
				st.cfg.LogLevel = "debug"
			}

			app, err := NewApplication(st.cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			st.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if st.app == nil {
				return nil
			}
			if st.metrics {
				if err := st.app.writeMetrics(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return st.app.Close()
		},
	}

	root.PersistentFlags().StringVar(&st.profile, "profile", "", "YAML profile filling unset configuration")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&st.metrics, "metrics", false, "print token cache and Graph counters on exit")

	root.AddCommand(
		newTokenCmd(st),
		newLoginCmd(st),
		newDeviceCmd(st),
		newLogoutCmd(st),
		newGetCmd(st),
		newDiscoverCmd(st),
		newKeygenCmd(st),
	)
	return root
}

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand(cfg).ExecuteContext(ctx)
}

// writeMetrics prints every counter and gauge sample registered by the
// application, one per line.
func (app *Application) writeMetrics(w io.Writer) error {
	families, err := app.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}

			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				lines = append(lines, fmt.Sprintf("%s_count %d", name, m.GetHistogram().GetSampleCount()))
			}
		}
	}

	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
