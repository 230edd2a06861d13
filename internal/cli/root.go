package cli

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/exposure/internal/version"
)

// NewRootCmd builds the command tree. Running the root without a
// subcommand starts the server.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exposure",
		Short: "Time-limited public exposure of internal services",
		Long: `exposure runs the control panel and the gated share proxy.

Operators enable a configured service for a bounded number of hours; the
service is then reachable on its public share host until the grant expires
or is revoked.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: runServe,
	}

	root.AddCommand(newServeCmd(), newValidateCmd(), newUpdatesCmd())
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
