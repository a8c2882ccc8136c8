/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wordgate/apiserver/internal/server"
)

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect consumptions whose activity record failed",
}

var deadLetterReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Record the activities of every stored dead letter",
	Long: `Reads every dead letter from object storage, records its activity and
deletes it. Quota is not charged again. Letters that fail stay in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := server.NewApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		replay := app.ReplayDeadLetters()
		if replay == nil {
			return errors.New("storage.backend is not configured")
		}
		result, err := replay(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, failed %d\n", result.Replayed, result.Failed)
		return err
	},
}

func init() {
	rootCmd.AddCommand(deadLetterCmd)
	deadLetterCmd.AddCommand(deadLetterReplayCmd)
}
