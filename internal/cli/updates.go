package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/exposure/internal/app"
	"github.com/MrSnakeDoc/exposure/internal/config"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/updates"
)

func newUpdatesCmd() *cobra.Command {
	var (
		cached  bool
		compact bool
	)

	cmd := &cobra.Command{
		Use:   "updates",
		Short: "Build one image update snapshot and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.SafeLoad()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.PrettyLog)
			defer func() { _ = log.Sync() }()

			catalog, err := app.LoadCatalog(cfg)
			if err != nil {
				return err
			}
			builder, _ := app.NewUpdateBuilder(cfg, log, catalog)

			ctx, cancel := context.WithTimeout(cmd.Context(), updates.DefaultRefreshTimeout)
			defer cancel()

			report, err := builder.Get(ctx, !cached)
			if err != nil {
				return fmt.Errorf("image update check failed: %w", err)
			}
			return writeReport(cmd, report, compact)
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "serve the cached snapshot when it is still fresh")
	cmd.Flags().BoolVar(&compact, "compact", false, "print JSON on a single line")
	return cmd
}

func writeReport(cmd *cobra.Command, report updates.Report, compact bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}
