package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/marmos91/edgesim/internal/logger"
	"github.com/marmos91/edgesim/pkg/api"
	"github.com/marmos91/edgesim/pkg/metrics"
	"github.com/marmos91/edgesim/pkg/storage/factory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the debug inspector server",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := prometheus.NewRegistry()
		collector := metrics.NewStorageCollector(registry)

		f := factory.New(factory.Options{
			RootPath: cfg.Storage.Root,
			Metrics:  collector,
		})
		defer f.Dispose()

		server := api.New(api.Config{
			Addr:            cfg.Inspector.Addr,
			ShutdownTimeout: cfg.Inspector.ShutdownTimeout,
		}, f, registry)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logger.Info("shutting down inspector")
			return server.Shutdown(context.Background())
		}
	},
}
