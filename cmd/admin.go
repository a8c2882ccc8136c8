/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wordgate/apiserver/internal/server"
)

// adminCmd groups account administration commands.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator accounts",
}

var adminGrantCmd = &cobra.Command{
	Use:   "grant <email>",
	Short: "Give an account admin rights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAdmin(cmd, args[0], true)
	},
}

var adminRevokeCmd = &cobra.Command{
	Use:   "revoke <email>",
	Short: "Remove admin rights from an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAdmin(cmd, args[0], false)
	},
}

func setAdmin(cmd *cobra.Command, email string, isAdmin bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	account, err := app.Accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find account %s: %w", email, err)
	}
	if err := app.Accounts.SetAdmin(ctx, account.ID, isAdmin); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is_admin=%t\n", account.Email, isAdmin)
	return nil
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminGrantCmd)
	adminCmd.AddCommand(adminRevokeCmd)
}
