package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/api"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/dispatcher"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// newServeCmd creates the 'serve' subcommand: scheduled runs plus the HTTP API.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the mirror on a schedule and exposes the HTTP API",
		Long: `Starts a long-running process that performs a mirror pass every
server.interval_seconds (0 disables the schedule) and serves /healthz,
/readyz, /metrics and the /v1/runs API for on-demand runs.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			if !cmd.Flags().Changed("port") {
				port = a.Config().Server.Port
			}
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				return fmt.Errorf("listen on port %d: %w", port, err)
			}
			return runServe(cmd.Context(), a, ln)
		}),
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (defaults to server.port)")
	return cmd
}

// runServe blocks until ctx is canceled or the HTTP server fails, then drains
// the server and waits for the in-flight run to stop.
func runServe(ctx context.Context, a App, ln net.Listener) error {
	cfg := a.Config()
	logger := a.Logger()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatch := dispatcher.New(a.Runner(), cfg.SyncInterval(), logger.Named("dispatcher"))
	apiServer := api.NewServer(dispatch, a.Metrics(), api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: 30 * time.Second,
	}, logger.Named("api"))

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Duration("interval", cfg.SyncInterval()))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
