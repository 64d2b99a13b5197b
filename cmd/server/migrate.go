package main

import (
	"invoice-automation-backend/internal/models"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		if err := db.AutoMigrate(models.All()...); err != nil {
			return err
		}
		log.Info("schema migrated")
		return nil
	},
}
