package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/lexcare/lexcare/app"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

var (
	turnUser         string
	turnConversation string
)

var turnCmd = &cobra.Command{
	Use:   "turn [message]",
	Short: "Run one conversation turn and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		conn, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		a, err := app.NewFactory(cfg, conn, logger).Build()
		if err != nil {
			return err
		}

		res, err := a.Orchestrator.Orchestrate(ctx, turn.Input{
			UserID:         turnUser,
			ConversationID: turnConversation,
			Text:           strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	turnCmd.Flags().StringVar(&turnUser, "user", "cli", "user id")
	turnCmd.Flags().StringVar(&turnConversation, "conversation", "", "conversation id (default: user id)")
}
