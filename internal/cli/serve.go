package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatvault/internal/adapter/blobstore"
	"github.com/xiaot623/gogo/chatvault/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatvault/internal/config"
	"github.com/xiaot623/gogo/chatvault/internal/hub"
	"github.com/xiaot623/gogo/chatvault/internal/policy"
	"github.com/xiaot623/gogo/chatvault/internal/repository"
	"github.com/xiaot623/gogo/chatvault/internal/service"
	httpserver "github.com/xiaot623/gogo/chatvault/internal/transport/http"
	v1 "github.com/xiaot623/gogo/chatvault/internal/transport/http/v1"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chatvault API server (configured from the environment)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting chatvault",
		"port", cfg.HTTPPort,
		"session_backend", cfg.SessionBackend,
		"store_backend", cfg.StoreBackend,
		"llm_provider", cfg.LLMProvider,
	)

	repo, err := repository.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open session repository: %w", err)
	}
	defer repo.Close()

	backend, err := llm.New(cfg, logger)
	if err != nil {
		return err
	}

	store, err := blobstore.New(cfg)
	if err != nil {
		return fmt.Errorf("open content store: %w", err)
	}

	engine, err := policy.Load(ctx, cfg.PublishPolicyFile)
	if err != nil {
		return fmt.Errorf("load publish policy: %w", err)
	}

	events := hub.New(logger)
	go events.Run(ctx)

	svc := service.New(repo, backend, store, service.Options{
		Policy:          engine,
		Events:          events,
		Logger:          logger,
		HistoryTurns:    cfg.ChatHistoryTurns,
		MaxPublishBytes: cfg.PublishMaxBytes,
	})

	handler := v1.NewHandler(svc, events, hub.PumpConfig{
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		ReadTimeout:  cfg.WSReadTimeout,
	}, logger)
	server := httpserver.NewServer(handler)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("API started", "port", cfg.HTTPPort)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("start server: %w", err)
	}

	logger.Info("shutting down chatvault")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
	}

	logger.Info("chatvault stopped")
	return nil
}
