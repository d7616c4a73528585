package main

import (
	"errors"

	"github.com/spf13/cobra"

	"space-chat/internal/config"
	"space-chat/internal/db"
	"space-chat/internal/observability"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			observability.SetupLogger(cfg.Log.Level, cfg.Log.Pretty, cfg.NodeID)
			if cfg.DB.Driver != "postgres" {
				return errors.New("migrate needs db.driver=postgres")
			}

			database, err := db.Connect(cmd.Context(), cfg.DB.DSN, false)
			if err != nil {
				return err
			}
			defer database.Close()
			return db.Migrate(cmd.Context(), database)
		},
	}
}
