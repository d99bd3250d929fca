package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mint/backend/internal/config"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
)

var (
	flagConfig string
	flagEnv    string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint-server",
		Short: "MINT modeling workbench backend",
		Long: `mint-server hosts the workbench REST API and MCP tools. It stores scenarios,
tasks and modeling threads, expands thread bindings into ensembles and tracks
their runs on the execution engine.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&flagEnv, "env", "", "Path to .env file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or upgrade the database schema and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context())
			},
		},
	)
	return cmd
}

// load reads configuration and builds the logger it describes.
func load() (*config.Loader, *config.Config, *logging.Logger, error) {
	loader := config.NewLoader(flagConfig)
	cfg, err := loader.Load(flagEnv)
	if err != nil {
		logging.NewLogger().Error("configuration loading failed", "error", err)
		return nil, nil, nil, err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return loader, cfg, logger, nil
}

// openStore opens the configured repository and applies migrations when it has a schema.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	repo, closeFn, err := repository.Open(ctx, cfg.DB.Driver, cfg.DSN(), logger.Component("db"))
	if err != nil {
		return nil, nil, err
	}
	if m, ok := repo.(repository.Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repo, closeFn, nil
}

func runMigrate(ctx context.Context) error {
	_, cfg, logger, err := load()
	if err != nil {
		return err
	}
	if cfg.DB.Driver == "memory" {
		logger.Warn("memory driver has no schema, nothing to migrate")
		return nil
	}
	_, closeFn, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("migration failed", "error", err)
		return err
	}
	defer closeFn()
	logger.Info("database schema up to date", "host", cfg.DB.Host, "name", cfg.DB.Name)
	return nil
}
