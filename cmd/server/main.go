package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
	"github.com/robot-puzzle-api/internal/dynamo"
	"github.com/robot-puzzle-api/internal/handler"
	"github.com/robot-puzzle-api/internal/kafka"
	"github.com/robot-puzzle-api/internal/memory"
	"github.com/robot-puzzle-api/internal/postgres"
	"github.com/robot-puzzle-api/internal/redis"
	"github.com/robot-puzzle-api/internal/service"
	"github.com/robot-puzzle-api/internal/websocket"
	"github.com/robot-puzzle-api/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	loadErr := err
	if err != nil {
		// only a missing file falls back to defaults
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "invalid configuration %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if loadErr != nil {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize Redis cache
	var (
		scoreCache   service.ScoreCache
		profileCache service.ProfileCache
		cache        *redis.Cache
	)
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err = redis.NewCache(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		scoreCache, profileCache = cache, cache
		logger.Info("connected to Redis")
	}

	scoreService := service.NewScoreService(store, scoreCache, logger)

	// new subscribers get the current leaderboard right away
	wsHub := websocket.NewHub(logger)
	wsHub.SetLeaderboardSource(scoreService)
	go wsHub.Run()
	scoreService.SetHub(wsHub)
	logger.Info("WebSocket hub initialized")

	services := handler.Services{
		Configurations: service.NewConfigurationService(store, logger),
		Rounds:         service.NewRoundService(store, logger),
		Scores:         scoreService,
		Profiles:       service.NewProfileService(store, profileCache, logger),
	}

	// Rebuild cached leaderboards from the store
	var syncWorker *worker.SyncWorker
	if cache != nil {
		syncWorker = worker.NewSyncWorker(store, cache, &cfg.Sync, logger)

		logger.Info("warming leaderboard cache")
		if err := syncWorker.SyncAll(ctx); err != nil {
			logger.Warn("failed to warm leaderboard cache", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Initialize Kafka consumer for bulk score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, scoreService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
			if err := kafkaConsumer.Start(startCtx); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
			cancelStart()
		}
	}

	httpHandler := handler.NewHandler(services, wsHub, store, cfg, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	logger.Info("server stopped")
}

// openStore connects the configured storage backend
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return repo, nil

	case config.DriverDynamoDB:
		logger.Info("connecting to DynamoDB", "region", cfg.DynamoDB.Region, "endpoint", cfg.DynamoDB.Endpoint)
		return dynamo.NewStore(ctx, &cfg.DynamoDB, logger)

	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
