package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the cmssearch HTTP API and block until SIGINT or SIGTERM.

Examples:
  # Start with the default config
  cmssearch serve

  # Override the port
  SERVER_PORT=8080 cmssearch serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// runServe starts the server and shuts it down gracefully when ctx is done.
func runServe(ctx context.Context) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	srv, err := a.newServer()
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	a.logger.Info(ctx, "starting cmssearch",
		zap.String("version", version),
		zap.Int("port", a.cfg.Server.Port),
		zap.String("region", a.cfg.CMS.Region),
		zap.Duration("shutdown_timeout", a.cfg.Server.ShutdownTimeout.Duration()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}
