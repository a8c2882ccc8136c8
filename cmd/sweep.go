/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wordgate/apiserver/internal/server"
	"github.com/wordgate/apiserver/internal/worker"
)

// sweepCmd runs the expiration sweep once, for use from an external scheduler.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the subscription expiration sweep once",
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

		downgraded, err := worker.NewSweeper(app.Lifecycle, cfg.Sweep.Interval, logger).RunOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "downgraded %d account(s)\n", downgraded)
		return err
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
