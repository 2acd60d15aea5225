package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cursorsCmd = &cobra.Command{
	Use:   "cursors",
	Short: "list or clear persisted sync cursors",
}

var cursorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list every sync id with a persisted cursor",
	RunE:  runCursorsList,
}

var cursorsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "clear a sync's cursor, forcing its next run to be a full sync",
	RunE:  runCursorsClear,
}

func init() {
	cursorsClearCmd.Flags().String("sync-id", "", "sync id whose cursor should be cleared (required)")
	cursorsCmd.AddCommand(cursorsListCmd)
	cursorsCmd.AddCommand(cursorsClearCmd)
}

func runCursorsList(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	syncIDs, err := c.checkpoint.List()
	if err != nil {
		return fmt.Errorf("synccli: listing cursors: %w", err)
	}
	if len(syncIDs) == 0 {
		fmt.Println("no persisted cursors")
		return nil
	}
	for _, id := range syncIDs {
		fmt.Println(id)
	}
	return nil
}

func runCursorsClear(cmd *cobra.Command, args []string) error {
	syncID, _ := cmd.Flags().GetString("sync-id")
	if syncID == "" {
		return fmt.Errorf("synccli: --sync-id is required")
	}

	c, err := buildComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.checkpoint.Clear(syncID); err != nil {
		return fmt.Errorf("synccli: clearing cursor for %s: %w", syncID, err)
	}
	fmt.Printf("cleared cursor for sync %s; next run will be a full sync\n", syncID)
	return nil
}
