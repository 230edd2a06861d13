package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/exposure/internal/sources/services"
)

const defaultServicesFile = "/app/services.json"

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the services file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := services.LoadFile(file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ %s: %d services\n", file, len(list))
			for _, svc := range list {
				mode := svc.AuthMode
				if mode == "" {
					mode = "default"
				}
				fmt.Fprintf(out, "  %-20s %-8s %s\n", svc.ID, mode, svc.Target)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", envOr("EXPOSURE_SERVICES_FILE", defaultServicesFile),
		"services file (YAML or JSON)")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
