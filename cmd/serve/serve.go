// Package serve implements the HTTP server subcommand.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tkoskela/imagevault-go/internal/api"
	"github.com/tkoskela/imagevault-go/internal/blobstore"
	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/logging"
	"github.com/tkoskela/imagevault-go/internal/metrics"
	"github.com/tkoskela/imagevault-go/internal/pipeline"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&settings.HTTP.Listen, "listen", settings.HTTP.Listen, "Listen address, e.g. :8080")
	return cmd
}

func runServer(ctx context.Context, settings *conf.Settings) error {
	logger := logging.ForService("serve")

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	blobs, err := blobstore.New(ctx, settings)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	pm, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return err
	}

	p := pipeline.New(settings, store, blobs, pm)
	controller := api.New(settings, store, blobs, p, registry)

	errChan := make(chan error, 1)
	go func() {
		errChan <- controller.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return controller.Shutdown(shutdownCtx)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return controller.Shutdown(shutdownCtx)
	}
}
