package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/lineageq/internal/config"
	"github.com/cuongbtq/lineageq/internal/eventbus"
	"github.com/cuongbtq/lineageq/internal/executor"
	"github.com/cuongbtq/lineageq/internal/relay"
	"github.com/cuongbtq/lineageq/internal/storage"
	"github.com/cuongbtq/lineageq/internal/worker"
	"github.com/cuongbtq/lineageq/shared/database"
	"github.com/cuongbtq/lineageq/shared/logger"
	"github.com/cuongbtq/lineageq/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize job store
	dbClient, err := database.NewClient(cfg.Database.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.New(dbClient.GetDB(), storage.Options{
		Backoff: cfg.Backoff.Policy(),
		Logger:  appLogger.Logger,
	})

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	appLogger.Info("Database connection established", slog.String("driver", dbClient.Driver()))

	adapter, err := executor.NewCommand(cfg.Executor.CommandConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize executor: %w", err)
	}

	bus := eventbus.New(eventbus.Options{Logger: appLogger.Logger})

	// Create worker instance
	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		Store:        store,
		Adapter:      adapter,
		Bus:          bus,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// Optional RabbitMQ relay: job status goes out to API processes, queued jobs wake the pool
	var notifyRelay *relay.Relay
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		notifyRelay = relay.New(&relay.Config{
			Logger:      appLogger.WithGroup("relay").Logger,
			Bus:         bus,
			Broker:      rabbitClient,
			Source:      rabbitClient,
			OnJobQueued: workerInstance.Wake,
		})
		if err := notifyRelay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start notification relay: %w", err)
		}

		appLogger.Info("RabbitMQ connection established")
	}

	workerInstance.Start(ctx)

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cancel context to stop the relay
	cancel()
	if notifyRelay != nil {
		notifyRelay.Stop()
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}
