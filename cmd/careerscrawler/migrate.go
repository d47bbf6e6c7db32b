package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/careers-crawler/internal/clock/system"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
	"github.com/JakeFAU/careers-crawler/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate requires database.driver=postgres, got %q", e.cfg.Database.Driver)
			}
			repo, err := postgres.New(cmd.Context(), postgres.Config{DSN: e.cfg.Database.DSN}, uuid.NewUUIDGenerator(), system.New())
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			e.logger.Info("schema applied")
			return nil
		},
	}
}
