package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/storage"
)

// EnvConfigPath overrides the default config file location
const EnvConfigPath = "LINEAGEQ_CONFIG_PATH"

const defaultConfigPath = "configs/api-service/config.yaml"

// Store is the part of the job store the admin commands use
type Store interface {
	Migrate(ctx context.Context) error
	InsertJob(ctx context.Context, spec domain.JobSpec) (int64, error)
	GetJob(ctx context.Context, id int64) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	CancelJob(ctx context.Context, id int64) (bool, error)
	JobStats(ctx context.Context) (map[domain.JobStatus]int64, error)
	QueueDepth(ctx context.Context) (int64, error)
}

// Opener connects to the store described by a config file.
// The returned close function releases the connection.
type Opener func(configPath string) (Store, func() error, error)

type app struct {
	open       Opener
	configPath string
	store      Store
	closeStore func() error
}

// NewRootCommand builds lineageqctl with every subcommand attached
func NewRootCommand(open Opener) *cobra.Command {
	a := &app{open: open}

	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	root := &cobra.Command{
		Use:           "lineageqctl",
		Short:         "Administer the lineage job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			store, closeFn, err := a.open(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to open job store: %w", err)
			}
			a.store = store
			a.closeStore = closeFn
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeStore == nil {
				return nil
			}
			return a.closeStore()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&a.configPath, "config", configPath, "Path to configuration file")

	root.AddCommand(
		migrateCmd(a),
		enqueueCmd(a),
		listCmd(a),
		getCmd(a),
		cancelCmd(a),
		statsCmd(a),
	)
	return root
}
