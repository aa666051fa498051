package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intrachat/intrachat/internal/api"
	"github.com/intrachat/intrachat/internal/app"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the JSON API. On startup the chat and embedding models are
pulled if missing, the model is warmed up, the Qdrant collection is
provisioned, and the periodic article fetch/ingest cycle is scheduled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	// Model and collection provisioning before accepting traffic.
	if err := a.Chat.PullModel(ctx); err != nil {
		return fmt.Errorf("pulling chat model: %w", err)
	}
	if err := a.Provision(ctx); err != nil {
		return err
	}
	a.Chat.Warmup(ctx)

	var wg sync.WaitGroup

	// Periodic article fetch + ingest cycle.
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Scheduler.Run(ctx)
	}()

	apiServer, err := api.NewServer(api.ServerConfig{
		Chat:          a.Chat,
		Ingestor:      a.Ingestor,
		Store:         a.Store,
		Logger:        logger,
		DataDir:       cfg.DataDir,
		BackgroundCtx: ctx,
		WG:            &wg,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := api.NewHTTPServer(cfg.ListenAddr, apiServer.Handler())

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"api", "/api/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		wg.Wait()
		return nil
	case err := <-errCh:
		cancel()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
