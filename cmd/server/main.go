// Package main provides the ops HTTP server entry point for the trader
// mirror service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trader-mirror/internal/api"
	"github.com/trader-mirror/internal/config"
	"github.com/trader-mirror/internal/leaderboard"
	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/queue"
	"github.com/trader-mirror/internal/registry"
	"github.com/trader-mirror/internal/storage"
	"github.com/trader-mirror/internal/vault"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Ops server starting")

	// Storage connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Storage connections established")

	// Read side
	cacheService := storage.NewCacheService(redis, cfg.Cache.RankingTTL, cfg.Cache.AccountTTL)

	leaderboardService, err := leaderboard.NewService(leaderboard.NewRepoSource(postgres), cacheService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create leaderboard service")
	}

	// Registration lifecycle
	credVault, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential vault")
	}

	accountRepo := storage.NewAccountRepository(postgres)
	credentialRepo := storage.NewCredentialRepository(postgres)
	scheduler := queue.NewScheduler(redis)

	registryService, err := registry.NewService(accountRepo, credentialRepo, scheduler, credVault, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create registry service")
	}

	server := api.NewServer(
		&api.ServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		},
		leaderboardService,
		registryService,
		storage.NewPolicyRepository(postgres),
		scheduler,
		accountRepo,
		logger,
	)

	// Serve until signalled
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	case <-sigCh:
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Ops server stopped")
}
