// Command frameloom runs the workflow execution API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frameloom/frameloom/api"
	"github.com/frameloom/frameloom/config"
	"github.com/frameloom/frameloom/core/executor"
	"github.com/frameloom/frameloom/core/runner"
	"github.com/frameloom/frameloom/providers/assets"
	"github.com/frameloom/frameloom/providers/observability"
	"github.com/frameloom/frameloom/providers/storage"
	"github.com/frameloom/frameloom/providers/storage/memstore"
	"github.com/frameloom/frameloom/providers/storage/pgstore"
	"github.com/frameloom/frameloom/providers/tasks"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	observer := observability.NewSlogProvider(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithProvider(ctx, observer)

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var taskClient *tasks.Client
	if cfg.TriggerEnabled && cfg.TriggerAPIURL != "" {
		taskRunner := tasks.NewHTTPRunner(cfg.TriggerAPIURL, cfg.TriggerAPIKey, nil)
		taskClient = tasks.NewClient(taskRunner,
			tasks.WithPollInterval(cfg.PollInterval),
			tasks.WithTaskTimeout(cfg.TaskTimeout),
		)
	} else {
		logger.Info("remote dispatch disabled, compute nodes use local fallbacks")
	}

	uploader := assets.NewHTTPUploader(
		cfg.DurableProviderName,
		cfg.DurableProviderURL,
		cfg.DurableProviderAPIKey,
		cfg.DurableProviderHost,
		nil,
	)
	var persister assets.Persister
	if uploader != nil {
		persister = assets.NewService(uploader, store)
	} else {
		persister = assets.NewService(nil, store)
		logger.Warn("durable asset provider not configured, media persistence will fail")
	}

	nodeExecutor := executor.New(taskClient, persister,
		executor.WithDefaultLLMModel(cfg.DefaultLLMModel),
		executor.WithDefaultImageModel(cfg.DefaultImageModel),
	)
	orchestrator := runner.New(store, nodeExecutor, runner.WithMaxParallelism(cfg.MaxLevelParallelism))

	var resolver *assets.Resolver
	if cfg.AssemblyAPIURL != "" {
		resolver = assets.NewResolver(cfg.AssemblyAPIURL, cfg.AssemblyAPIKey, nil, persister)
	}

	server := api.NewServer(store, orchestrator, resolver, observer)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", "addr", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openStore selects Postgres when DATABASE_URL is set, otherwise the
// in-memory store for local development.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Info("using in-memory store")
		return memstore.New(), func() {}, nil
	}

	store, pool, err := pgstore.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
