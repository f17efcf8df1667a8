package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCheckpointNamespace string

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint <programId>",
	Short: "Delete a program's checkpoint row so its poller restarts from the current slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runResetCheckpoint,
}

func init() {
	resetCheckpointCmd.Flags().StringVar(&resetCheckpointNamespace, "namespace", "", "tenant namespace owning the program's checkpoint row (required: checkpoints are per-tenant, unlike the teacher's single shared table)")
	resetCheckpointCmd.MarkFlagRequired("namespace")
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) error {
	programID := args[0]
	ctx := cmd.Context()

	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	deleted, err := a.writer.ResetCheckpoint(ctx, resetCheckpointNamespace, programID)
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Printf("no checkpoint row found for program %s in namespace %s\n", programID, resetCheckpointNamespace)
		return nil
	}
	fmt.Printf("checkpoint reset for program %s in namespace %s\n", programID, resetCheckpointNamespace)
	return nil
}
