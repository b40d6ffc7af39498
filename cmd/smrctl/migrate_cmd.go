package main

import (
	"github.com/spf13/cobra"

	"smr/internal/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dbManager, logger, err := opts.connect()
			if err != nil {
				return err
			}
			defer dbManager.Close()

			if err := database.NewMigrationManager(dbManager.GetGormDB(), logger.Zerolog()).Migrate(); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "migrated"})
		},
	}
}
