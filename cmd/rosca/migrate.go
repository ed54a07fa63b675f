package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/circlepot/rosca-service/internal/config"
	"github.com/circlepot/rosca-service/internal/store"
	"github.com/circlepot/rosca-service/pkg/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Setup()
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			repo, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			applied, err := repo.AppliedMigrations(ctx)
			if err != nil {
				return fmt.Errorf("failed to list migrations: %w", err)
			}
			logger.Info("migrations applied", "dialect", repo.Dialect().String(), "count", len(applied))
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
