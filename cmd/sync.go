package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const pushTimeout = 10 * time.Second

// newSyncCmd creates the 'sync' subcommand, which performs one mirror pass.
func newSyncCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Runs one mirror pass and exits",
		Long: `Lists the object store, scrapes every configured directory index,
uploads files missing from the store and deletes keys no longer listed
upstream. Exits non-zero when the run aborts or any item fails.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			return runSync(cmd, a, asJSON)
		}),
	}
	cmd.Flags().Bool("dry-run", false, "plan and log actions without writing to the store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON on stdout")
	return cmd
}

func runSync(cmd *cobra.Command, a App, asJSON bool) error {
	logger := a.Logger()
	summary, runErr := a.Runner().Run(cmd.Context())

	cfg := a.Config()
	if cfg.Metrics.PushgatewayURL != "" {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), pushTimeout)
		if err := a.Metrics().Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("failed to push metrics", zap.String("gateway", cfg.Metrics.PushgatewayURL), zap.Error(err))
		}
		cancel()
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("sync %s: %w", summary.RunID, runErr)
	}
	return nil
}
