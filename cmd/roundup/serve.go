package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roundup/pkg/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the round-up trigger over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			serverConfig := api.DefaultServerConfig()
			serverConfig.Address = cfg.Server.Addr
			serverConfig.MetricsNamespace = cfg.Metrics.Namespace

			server, err := api.NewServer(api.Dependencies{
				Runner:   a.orchestrator,
				Guard:    a.guard(),
				Registry: a.registry,
				Breaker:  a.client,
			}, serverConfig)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down gracefully", zap.Duration("timeout", shutdownTimeout))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
}
