package main

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/tuition/internal"
	"github.com/dukerupert/tuition/internal/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
	}
	cmd.AddCommand(migrateSubcommand("up", "Apply all pending migrations", internal.RunMigrations))
	cmd.AddCommand(migrateSubcommand("status", "Show applied migrations", internal.MigrationStatus))
	cmd.AddCommand(migrateSubcommand("down", "Roll back the most recent migration", internal.RollbackMigration))
	return cmd
}

func migrateSubcommand(use, short string, run func(*sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return fmt.Errorf("config initialization failed: %w", err)
			}
			if cfg.Store.Driver != internal.StoreDriverPostgres {
				return fmt.Errorf("migrations apply to STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
			}

			db, err := postgres.Open(cmd.Context(), cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			return run(db)
		},
	}
}
