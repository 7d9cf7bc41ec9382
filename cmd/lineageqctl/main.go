package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/lineageq/internal/cli"
	"github.com/cuongbtq/lineageq/internal/config"
	"github.com/cuongbtq/lineageq/internal/storage"
	"github.com/cuongbtq/lineageq/shared/database"
	"github.com/cuongbtq/lineageq/shared/logger"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(openStore).ExecuteContext(ctx); err != nil {
		stop()
		log.SetFlags(0)
		log.Println("Error:", err)
		os.Exit(1)
	}
}

// openStore connects to the job store named in the config file
func openStore(configPath string) (cli.Store, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	// Only warnings reach the terminal; command output goes to stdout
	appLogger, err := logger.New(&logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return nil, nil, err
	}

	dbClient, err := database.NewClient(cfg.Database.ClientConfig(), appLogger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := storage.New(dbClient.GetDB(), storage.Options{
		Backoff: cfg.Backoff.Policy(),
		Logger:  appLogger.Logger,
	})
	return store, dbClient.Close, nil
}
