package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airweave-ai/airweave-sync/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report a sync job's recorded status, optionally following live progress",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("sync-job-id", "", "sync job id to inspect (required)")
	statusCmd.Flags().Bool("follow", false, "stream live progress events until the job reaches a terminal status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	syncJobID, _ := cmd.Flags().GetString("sync-job-id")
	follow, _ := cmd.Flags().GetBool("follow")
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
	fmt.Printf("sync_job_id=%s sync_id=%s status=%s started_at=%s\n", job.ID, job.SyncID, job.Status, job.StartedAt)
	if job.Error != "" {
		fmt.Printf("error: %s\n", job.Error)
	}

	if !follow {
		return nil
	}

	sub, err := progress.NewSubscriber(c.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("synccli: subscribing to progress channel: %w", err)
	}
	defer sub.Close()

	events, err := sub.Subscribe(ctx, syncJobID)
	if err != nil {
		return fmt.Errorf("synccli: subscribing to progress channel: %w", err)
	}

	for ev := range events {
		fmt.Printf("[%s] %s inserted=%d updated=%d kept=%d deleted=%d skipped=%d failed=%d %s\n",
			ev.Timestamp.Format("15:04:05"), ev.Type,
			ev.Counts.Inserted, ev.Counts.Updated, ev.Counts.Kept, ev.Counts.Deleted, ev.Counts.Skipped, ev.Counts.Failed,
			ev.Message)
		if ev.Type == progress.EventError {
			break
		}
	}
	return nil
}
