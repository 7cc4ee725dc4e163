package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info().Str("driver", cfg.Store.Driver).Msg("Database is up to date")
		return nil
	},
}
