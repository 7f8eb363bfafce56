// Package cmd defines and implements the CLI commands for the mirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/app"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/config"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/metrics"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/mirror"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of *app.App the commands use.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Metrics() *metrics.Recorder
	Runner() *mirror.Runner
	Close(ctx context.Context) error
}

// newApp is the application factory. Tests replace it to inject a store.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Mirrors public time-series directories into object storage.",
		Long: `mirror keeps an object-storage bucket in step with a set of publicly
hosted flat-file directories (by default the BLS pub/time.series tree).
New files are copied in, files already present are skipped, and files
that disappeared upstream are deleted.`,
		SilenceUsage: true,

		// Builds the application once config is loaded and before the
		// subcommand's RunE; the subcommand closes it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
				dryRun, err := cmd.Flags().GetBool("dry-run")
				if err != nil {
					return fmt.Errorf("read --dry-run: %w", err)
				}
				cfg.Sync.DryRun = dryRun
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); MIRROR_* env vars override it")
	cmd.AddCommand(newSyncCmd(), newServeCmd())
	return cmd
}

// withApp resolves the App from the context and closes it once run returns.
func withApp(run func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
				a.Logger().Warn("error closing application services", zap.Error(cerr))
			}
			// Sync fails on non-file sinks such as a terminal stderr.
			_ = a.Logger().Sync()
		}()
		return run(cmd, a)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with SIGINT/SIGTERM cancellation and returns
// the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
