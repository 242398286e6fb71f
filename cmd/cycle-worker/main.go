package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"tanda/internal/config"
	"tanda/internal/core"
	"tanda/internal/events"
	applog "tanda/internal/log"
	"tanda/internal/rails"
	"tanda/internal/services"
	"tanda/internal/storage"
	"tanda/internal/worker"
)

// cycle-worker runs the sweep loop on its own, for deployments that keep
// the API and the scheduler in separate processes.
func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.Config{
		Level:  applog.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Starting cycle-worker", "interval", cfg.SweepInterval, "sqlite_db", cfg.SQLiteDBPath)

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP publisher, events will be dropped", applog.FieldError, err)
		} else {
			defer amqpPub.Close()
			publisher = amqpPub
		}
	}

	clock := clockwork.NewRealClock()
	rules := services.Rules{
		GracePeriodDays:   cfg.GracePeriodDays,
		LatePenaltyPct:    cfg.LatePenaltyPct,
		AdvanceCapPct:     cfg.AdvanceCapPct,
		AdvanceScoreFloor: cfg.AdvanceScoreFloor,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBackoffBase:  cfg.RetryBackoffBase,
	}

	rail := rails.NewRetryingRail(rails.NewLoopbackRail(), clock, cfg.RetryAttempts, cfg.RetryBackoffBase)
	backstop := rails.NewMemoryBackstop(core.Money{Cents: cfg.BackstopBalanceCents})
	gateway := rails.LoopbackGateway{}

	circleLocks := services.NewKeyedLocks()
	trust := services.NewTrustService(store, clock)
	contributions := services.NewContributionService(store, clock, trust, publisher, rules, circleLocks)
	advances := services.NewAdvanceService(store, clock, trust, rail, gateway, publisher, rules)
	circles := services.NewCircleService(store, clock, trust, contributions, advances, rail, publisher, circleLocks)
	defaults := services.NewDefaultService(store, clock, trust, backstop, publisher, circleLocks)

	sweeper := worker.New(store, clock, circles, defaults, advances, cfg.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	sweeper.Run(ctx)
	logger.Info("Cycle-worker shutdown complete")
}
