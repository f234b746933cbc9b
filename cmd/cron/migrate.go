package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/leadwatch/core/internal/config"
	"github.com/leadwatch/core/pkg/database/migrate"
	"github.com/leadwatch/core/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if storeKind == storeMemory {
			return errors.New("migrate needs --store=postgres")
		}
		log := logger.New("migrate")

		db, err := migrate.Open(config.Load().DatabaseURL())
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := migrate.Up(cmd.Context(), db, *log.Logger)
		if err != nil {
			return err
		}
		log.Info().Str("action", "migrate_complete").Int("applied", applied).Msg("Schema is up to date")
		return nil
	},
}
