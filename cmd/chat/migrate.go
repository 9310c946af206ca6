package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"sudooom.im.chat/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := repository.Migrate(cfg.Database); err != nil {
			return err
		}
		slog.Default().Info("Migrations applied", "database", cfg.Database.Name)
		return nil
	},
}
