package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/lexcare/lexcare/adapters"
	"github.com/ZanzyTHEbar/lexcare/lexcare/app"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load lawyer candidates from a YAML file into the search index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := os.Open(seedFile)
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()

		conn, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		n, err := app.Seed(ctx, adapters.NewSQLSearchIndex(conn), f)
		if err != nil {
			return err
		}
		logger.Info().Int("candidates", n).Str("file", seedFile).Msg("Seeded search index")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "candidates.yaml", "candidates file")
}
