package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/exposure/internal/app"
	"github.com/MrSnakeDoc/exposure/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control panel and share proxy (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// runServe installs the signal context before startup so SIGTERM also
// aborts a Redis connection still retrying.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.SafeLoad()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
