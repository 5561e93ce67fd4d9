package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gracechurch/publisher/internal/api"
	"github.com/gracechurch/publisher/internal/assets"
	"github.com/gracechurch/publisher/internal/cache"
	"github.com/gracechurch/publisher/internal/config"
	"github.com/gracechurch/publisher/internal/contentstore"
	"github.com/gracechurch/publisher/internal/logger"
	"github.com/gracechurch/publisher/internal/publishing"
	"github.com/gracechurch/publisher/internal/storage"
)

func main() {
	// Load and validate configuration
	cfg := config.Load()

	// Initialize logger
	output := cfg.LogFile
	if output == "" {
		output = "stdout"
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Output: output,
		Pretty: cfg.LogPretty,
	}); err != nil {
		panic(err)
	}

	log := logger.Get()
	log.Info().Str("env", cfg.Env).Str("asset_backend", cfg.AssetBackend).Msg("Starting publisher...")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize Redis client. Without it the service runs with no edit locks
	// and failed deletes are only logged.
	var (
		locker  publishing.Locker
		orphans cache.RedisInterface
	)
	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, continuing without locks or orphan ledger")
	} else {
		locker, orphans = redisClient, redisClient
		defer func() {
			log.Info().Msg("Closing Redis client...")
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis client")
			}
		}()
	}

	store, err := newContentStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize content store")
	}

	manager := assets.NewManager(store, orphans, assets.ManagerConfig{
		UploadTimeout: cfg.UploadTimeout,
		MaxAssetSize:  cfg.MaxAssetSize,
	})

	service := publishing.NewService(store, manager, locker, publishing.Config{
		DocumentType:       cfg.ContentDocumentType,
		TransactionTimeout: cfg.TransactionTimeout,
		CleanupTimeout:     cfg.CleanupTimeout,
		MaxContentDepth:    cfg.MaxContentDepth,
		SlugAttempts:       cfg.SlugAttempts,
		LockTTL:            cfg.ArticleLockTTL,
	})

	var sweeper api.OrphanSweeper
	if orphans != nil {
		s := assets.NewSweeper(store, orphans, 100, cfg.OrphanSweepInterval)
		sweeper = s
		if cfg.OrphanSweepInterval > 0 {
			go s.Run(ctx, cfg.OrphanSweepInterval)
		}
	}

	app := api.NewApp(cfg)
	api.SetupRoutes(app, api.NewHandlers(service, sweeper, manager), cfg)

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stop()

	// Create a deadline for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// newContentStore builds the document client and routes assets to the configured backend.
func newContentStore(ctx context.Context, cfg *config.Config) (contentstore.Client, error) {
	docs := contentstore.NewHTTPClient(contentstore.HTTPConfig{
		BaseURL:    cfg.ContentBaseURL(),
		Dataset:    cfg.ContentDataset,
		Token:      cfg.ContentToken,
		Timeout:    cfg.HTTPTimeout,
		RetryCount: cfg.ContentRetryCount,
	})

	switch cfg.AssetBackend {
	case config.AssetBackendR2:
		r2, err := assets.NewR2Store(ctx, assets.R2Config{
			Endpoint:  cfg.R2BaseEndpoint(),
			AccessKey: cfg.R2AccessKey,
			SecretKey: cfg.R2SecretKey,
			Bucket:    cfg.R2Bucket,
			PublicURL: cfg.AssetPublicURL,
		})
		if err != nil {
			return nil, err
		}
		return contentstore.WithAssetStore(docs, r2), nil
	case config.AssetBackendLocal:
		local, err := storage.NewAssetStore(cfg.LocalAssetPath, cfg.AssetPublicURL)
		if err != nil {
			return nil, err
		}
		logger.Get().Warn().Str("path", cfg.LocalAssetPath).Msg("Storing assets on local disk")
		return contentstore.WithAssetStore(docs, local), nil
	}
	return docs, nil
}
