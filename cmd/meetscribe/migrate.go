package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/phrazzld/meetscribe/internal/platform/logger"
	"github.com/phrazzld/meetscribe/internal/platform/postgres"
	"github.com/spf13/cobra"
)

var migrateCommands = []string{"up", "down", "reset", "status", "version"}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate {up|down|reset|status|version}",
		Short:     "Run sync tier database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres.url is not configured")
			}
			log := logger.New(logger.Config{Level: cfg.Server.LogLevel, Format: "text"}, os.Stderr)
			return runMigration(cmd, cfg.Postgres, args[0], log)
		},
	}
}

func runMigration(cmd *cobra.Command, pg config.PostgresConfig, command string, log *slog.Logger) error {
	ctx := cmd.Context()
	db, err := postgres.Open(ctx, postgres.Config{URL: pg.URL, MaxOpenConns: 1}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database connection", "error", err)
		}
	}()
	return postgres.Migrate(ctx, db, command, log)
}
