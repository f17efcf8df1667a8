package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uho-indexer/uho/internal/backfill"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Create and manage historical backfill jobs for a subscription",
}

var (
	backfillStartSlot uint64
	backfillEndSlot   uint64
)

var backfillCreateCmd = &cobra.Command{
	Use:   "create <subscriptionId>",
	Short: "Start a backfill job for a subscription, optionally bounded to [startSlot, endSlot]",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillCreate,
}

var backfillStatusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Print a backfill job's current progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillStatus,
}

var backfillCancelCmd = &cobra.Command{
	Use:   "cancel <jobId>",
	Short: "Request cancellation of a running backfill job",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillCancel,
}

var backfillRetryCmd = &cobra.Command{
	Use:   "retry <jobId>",
	Short: "Retry a failed or cancelled backfill job over its unfinished range",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillRetry,
}

func init() {
	backfillCreateCmd.Flags().Uint64Var(&backfillStartSlot, "start-slot", 0, "lower bound slot (omit for the demo floor: the chain tip minus 10,000 slots, or 0 on a shorter chain)")
	backfillCreateCmd.Flags().Uint64Var(&backfillEndSlot, "end-slot", 0, "upper bound slot (omit for the current chain tip)")

	backfillCmd.AddCommand(backfillCreateCmd, backfillStatusCmd, backfillCancelCmd, backfillRetryCmd)
	rootCmd.AddCommand(backfillCmd)
}

func runBackfillCreate(cmd *cobra.Command, args []string) error {
	subscriptionID := args[0]
	ctx := cmd.Context()

	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	sub, err := a.cp.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	jobID, err := a.backfillMgr.Create(ctx, sub.TenantID, subscriptionID)
	if err != nil {
		return err
	}

	var rng backfill.Range
	if backfillStartSlot != 0 {
		rng.StartSlot = &backfillStartSlot
	}
	if backfillEndSlot != 0 {
		rng.EndSlot = &backfillEndSlot
	}
	if err := a.backfillMgr.Start(ctx, jobID, rng); err != nil {
		return err
	}
	fmt.Println(jobID)
	return nil
}

func runBackfillStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.backfillMgr.Status(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func runBackfillCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	a.backfillMgr.Cancel(args[0])
	fmt.Println("cancellation requested")
	return nil
}

func runBackfillRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	newID, err := a.backfillMgr.Retry(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(newID)
	return nil
}
