package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"equity-waterfall-engine/config"
	"equity-waterfall-engine/internal/aggregate"
	"equity-waterfall-engine/internal/api"
	"equity-waterfall-engine/internal/cache"
	"equity-waterfall-engine/internal/database"
	"equity-waterfall-engine/internal/daycount"
	"equity-waterfall-engine/internal/events"
	"equity-waterfall-engine/internal/logging"
)

func main() {
	// Load .env if present; real environment always wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Info().Msg("Structured logging initialized")

	conv, err := daycount.ParseConvention(cfg.EngineConfig.DayCountConvention)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid day count convention")
	}
	logger.Info().Str("convention", string(conv)).Msg("Day count convention configured")

	eventBus := events.NewEventBus()
	logger.Info().Msg("Event bus initialized")

	// Log run lifecycle events centrally so handlers stay quiet
	eventBus.SubscribeAll(func(event events.Event) {
		logger.Info().
			Str("event", string(event.Type)).
			Interface("data", event.Data).
			Msg("Event published")
	})

	// Database is optional; without it runs compute but are not persisted
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		cancel()

		repo = database.NewRepository(db)
	} else {
		logger.Warn().Msg("Database disabled, runs will not be persisted")
	}

	// Redis is optional; the cache degrades gracefully when it is down
	var runCache *cache.RunCache
	if cfg.RedisConfig.Enabled {
		runCache, err = cache.NewRunCache(cfg.RedisConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize run cache")
		}
		defer runCache.Close()
	} else {
		logger.Warn().Msg("Redis disabled, every submission recomputes")
	}

	aggregator := aggregate.New(
		cfg.AggregatorConfig.CostSections,
		cfg.AggregatorConfig.RevenueSections,
		aggregate.UnknownPolicy(cfg.AggregatorConfig.UnknownSectionPolicy),
		logger,
	)

	server := api.NewServer(cfg.ServerConfig, conv, aggregator, repo, runCache, eventBus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}
