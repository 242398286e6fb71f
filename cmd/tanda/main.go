package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"tanda/internal/config"
	"tanda/internal/core"
	"tanda/internal/events"
	apphttp "tanda/internal/http"
	applog "tanda/internal/log"
	"tanda/internal/rails"
	"tanda/internal/services"
	"tanda/internal/storage"
	"tanda/internal/worker"
)

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

	logger.Info("Starting tanda engine", "port", cfg.Port, "sqlite_db", cfg.SQLiteDBPath)

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
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled, domain events will not be published")
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

	// Loopback money movement until real rail and gateway integrations land.
	rail := rails.NewRetryingRail(rails.NewLoopbackRail(), clock, cfg.RetryAttempts, cfg.RetryBackoffBase)
	backstop := rails.NewMemoryBackstop(core.Money{Cents: cfg.BackstopBalanceCents})
	gateway := rails.LoopbackGateway{}

	circleLocks := services.NewKeyedLocks()
	trust := services.NewTrustService(store, clock)
	contributions := services.NewContributionService(store, clock, trust, publisher, rules, circleLocks)
	advances := services.NewAdvanceService(store, clock, trust, rail, gateway, publisher, rules)
	circles := services.NewCircleService(store, clock, trust, contributions, advances, rail, publisher, circleLocks)
	defaults := services.NewDefaultService(store, clock, trust, backstop, publisher, circleLocks)

	srv := apphttp.NewServer(":"+cfg.Port, circles, contributions, advances, defaults, trust)
	sweeper := worker.New(store, clock, circles, defaults, advances, cfg.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
			return nil
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Engine stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	slog.Info("Engine stopped gracefully")
}
