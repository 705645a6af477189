package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/fiesta/internal"
	"github.com/DukeRupert/fiesta/internal/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return fmt.Errorf("config initialization failed: %w", err)
			}
			if cfg.Store != internal.StorePostgres {
				return fmt.Errorf("migrate requires STORE=postgres, got %s", cfg.Store)
			}

			db, err := postgres.Open(cmd.Context(), cfg.DatabaseUrl)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if err := internal.RunMigrations(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			version, err := internal.MigrationVersion(db)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return err
		},
	}
}
