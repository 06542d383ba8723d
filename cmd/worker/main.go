// Package main provides the sync worker entry point for the trader mirror
// service.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/trader-mirror/internal/broker"
	"github.com/trader-mirror/internal/config"
	"github.com/trader-mirror/internal/leaderboard"
	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/queue"
	"github.com/trader-mirror/internal/ratelimit"
	"github.com/trader-mirror/internal/reconciler"
	"github.com/trader-mirror/internal/storage"
	"github.com/trader-mirror/internal/syncer"
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
	logger.Info("Sync worker starting")

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

	// Credential vault and brokerage client
	credVault, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential vault")
	}

	brokerClient, err := broker.NewClient(&cfg.Broker)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create broker client")
	}

	// Fleet-wide request budget: every worker process shares the provider
	// ceiling through Redis.
	budget, err := ratelimit.NewBudget(&ratelimit.BudgetConfig{
		Redis:             redis.Client(),
		RequestsPerWindow: cfg.Broker.RequestsPerSecond,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create broker request budget")
	}
	brokerClient.WithBudget(budget)

	// Sync actor over the repository-backed store
	actor, err := syncer.NewActor(brokerClient, syncer.NewRepoStore(postgres), credVault, syncer.Config{
		EquityWindowDays: cfg.Sync.EquityWindowDays,
		TradeWindow:      cfg.Sync.TradeWindow,
		OrderPageSize:    cfg.Broker.OrderPageSize,
		MaxOrderPages:    cfg.Broker.MaxOrderPages,
		AnnualRiskFree:   cfg.Sync.AnnualRiskFree,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync actor")
	}

	// Queue: scheduler + dispatcher pool
	cacheService := storage.NewCacheService(redis, cfg.Cache.RankingTTL, cfg.Cache.AccountTTL)
	scheduler := queue.NewScheduler(redis)

	dispatcher, err := queue.NewDispatcher(scheduler, actor, queue.NewRepoDirectory(postgres), cacheService, queue.Config{
		Workers:     cfg.Sync.Workers,
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffCap:  cfg.Sync.BackoffCap,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create dispatcher")
	}

	// Reconciliation cycle, with the leaderboard service as cache warmer
	accountRepo := storage.NewAccountRepository(postgres)
	snapshotRepo := storage.NewSnapshotRepository(postgres)

	warmer, err := leaderboard.NewService(leaderboard.NewRepoSource(postgres), cacheService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create leaderboard service")
	}

	cycle, err := reconciler.NewCycle(accountRepo, snapshotRepo, scheduler, cacheService, warmer, reconciler.Config{
		Interval:      cfg.Sync.CycleInterval,
		FailureGrace:  cfg.Sync.FailureGrace,
		RecoveryLimit: cfg.Sync.RecoveryLimit,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create reconciliation cycle")
	}

	dispatcher.Start()
	if err := cycle.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start reconciliation cycle")
	}

	logger.WithFields(map[string]interface{}{
		"workers":       cfg.Sync.Workers,
		"cycleInterval": cfg.Sync.CycleInterval.String(),
	}).Info("Sync worker running")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutdown signal received, stopping")

	cycle.Stop()
	dispatcher.Stop()

	logger.Info("Sync worker stopped")
}
