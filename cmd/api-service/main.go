package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/lineageq/internal/api/handler"
	"github.com/cuongbtq/lineageq/internal/api/router"
	"github.com/cuongbtq/lineageq/internal/config"
	"github.com/cuongbtq/lineageq/internal/eventbus"
	"github.com/cuongbtq/lineageq/internal/executor"
	"github.com/cuongbtq/lineageq/internal/relay"
	"github.com/cuongbtq/lineageq/internal/storage"
	"github.com/cuongbtq/lineageq/internal/trigger"
	"github.com/cuongbtq/lineageq/internal/worker"
	"github.com/cuongbtq/lineageq/shared/database"
	"github.com/cuongbtq/lineageq/shared/logger"
	"github.com/cuongbtq/lineageq/shared/rabbitmq"
)

const serviceName = "lineageq-api-service"

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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

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

	bus := eventbus.New(eventbus.Options{Logger: appLogger.Logger})

	// Optional embedded worker pool
	var embedded *worker.Worker
	if cfg.Worker.Embedded {
		workerLogger := appLogger.WithAttrs(slog.String("component", "embedded-worker"))
		embedded, err = initWorker(cfg, store, bus, workerLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize embedded worker: %w", err)
		}
		embedded.Start(ctx)
		go embedded.WakeOnQueued(ctx, bus)
	}

	// Optional RabbitMQ relay
	var (
		rabbitClient *rabbitmq.Client
		notifyRelay  *relay.Relay
	)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		relayCfg := &relay.Config{
			Logger: appLogger.WithGroup("relay").Logger,
			Bus:    bus,
			Broker: rabbitClient,
			Source: rabbitClient,
		}
		if embedded != nil {
			relayCfg.OnJobQueued = embedded.Wake
		}
		notifyRelay = relay.New(relayCfg)
		if err := notifyRelay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start notification relay: %w", err)
		}

		appLogger.Info("RabbitMQ connection established")
	}

	triggers := trigger.NewService(&trigger.Config{
		Logger:          appLogger.Logger,
		Store:           store,
		Bus:             bus,
		WebhookSecret:   cfg.Webhook.Secret,
		DefaultConnName: cfg.Webhook.DefaultConnName,
	})

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:      appLogger.Logger,
		Store:       store,
		Triggers:    triggers,
		Bus:         bus,
		DBClient:    dbClient,
		ServiceName: serviceName,
	})

	// Request contexts derive from streamCtx so open event streams end when shutdown begins
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return streamCtx },
	}
	srv.RegisterOnShutdown(cancelStreams)

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Bool("embedded_worker", embedded != nil),
	)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	cancel()

	if embedded != nil {
		stopWorker(embedded, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	}
	if notifyRelay != nil {
		notifyRelay.Stop()
	}

	appLogger.Info("Server shutdown complete")
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

// initWorker builds the worker pool that runs inside the API process
func initWorker(cfg *config.Config, store *storage.Storage, bus *eventbus.Bus, logger *slog.Logger) (*worker.Worker, error) {
	adapter, err := executor.NewCommand(cfg.Executor.CommandConfig(), logger)
	if err != nil {
		return nil, err
	}

	return worker.NewWorker(&worker.Config{
		Logger:       logger,
		Store:        store,
		Adapter:      adapter,
		Bus:          bus,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
	})
}

// stopWorker waits for in-flight jobs up to timeout
func stopWorker(w *worker.Worker, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Embedded worker stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Embedded worker shutdown timeout exceeded, abandoning in-flight jobs")
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
