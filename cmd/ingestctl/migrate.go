package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"doc-ingest-service/internal/repository/postgresql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, deps, logger, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer deps.Close()

		if err := postgresql.Migrate(cmd.Context(), deps.Pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrate.ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
