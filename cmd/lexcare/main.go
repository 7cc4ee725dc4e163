// Command lexcare runs the legal-intake conversation service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/lexcare/lexcare/app"
	"github.com/ZanzyTHEbar/lexcare/lexcare/config"

	// Database drivers selected by store.driver
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

var (
	configPath string
	envFile    string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lexcare",
	Short: "Conversational legal intake and lawyer matching",
	Long: `lexcare talks with people about a legal problem, asks the intake
questions a specialist would, and recommends lawyers that fit their
situation. It holds back recommendations when someone is in crisis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
		} else {
			// .env is optional
			_ = godotenv.Load()
		}

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = app.NewLogger(cfg.App, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before config")

	rootCmd.AddCommand(serveCmd, turnCmd, seedCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
