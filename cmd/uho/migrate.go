package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the shared control-plane schema (uho_subscriptions, uho_enablement, uho_backfill_jobs, uho_webhooks, uho_views)",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cp.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info().Msg("[migrate] control-plane schema up to date")
	return nil
}
