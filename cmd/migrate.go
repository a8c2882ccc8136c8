/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wordgate/apiserver/internal/db"
	"github.com/wordgate/apiserver/internal/store/mongo"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		if cfg.Database.Driver == db.DriverMongo {
			ms, err := mongo.Connect(cmd.Context(), cfg.Database.URI, cfg.Database.DBName)
			if err != nil {
				return err
			}
			defer ms.Close()
			if err := ms.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("create indexes failed: %w", err)
			}
			logger.Info("mongo indexes ensured", "database", cfg.Database.DBName)
			return nil
		}

		if err := db.MigrateUp(cfg.Database); err != nil {
			return err
		}
		logger.Info("migrations applied", "driver", cfg.Database.Driver)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver == db.DriverMongo {
			return fmt.Errorf("migrate down is not supported for %s", db.DriverMongo)
		}

		steps, err := cmd.Flags().GetInt("steps")
		if err != nil {
			return err
		}
		if err := db.MigrateDown(cfg.Database, steps); err != nil {
			return err
		}
		logger.Info("migrations rolled back", "driver", cfg.Database.Driver, "steps", steps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back (0 rolls back all)")
}
