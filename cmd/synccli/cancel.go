package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "request cooperative cancellation of a running sync job",
	Long: `cancel sets the cancel_requested flag on a sync job's document.

A running "synccli run" process polls this flag every few seconds and
cancels its own context when it sees it set — there is no direct process
link between a cancel invocation and the job it targets.`,
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().String("sync-job-id", "", "sync job id to cancel (required)")
}

func runCancel(cmd *cobra.Command, args []string) error {
	syncJobID, _ := cmd.Flags().GetString("sync-job-id")
	if syncJobID == "" {
		return fmt.Errorf("synccli: --sync-job-id is required")
	}

	ctx := context.Background()
	c, err := buildComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.docs.GetSyncJob(ctx, syncJobID)
	if err != nil {
		return fmt.Errorf("synccli: looking up sync job %s: %w", syncJobID, err)
	}

	job.CancelRequested = true
	if err := c.docs.PutSyncJob(ctx, job); err != nil {
		return fmt.Errorf("synccli: requesting cancellation for %s: %w", syncJobID, err)
	}

	fmt.Printf("cancellation requested for sync job %s\n", syncJobID)
	return nil
}
