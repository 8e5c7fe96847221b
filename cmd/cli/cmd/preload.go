package cmd

import (
	"strconv"

	"sellwatch/internal/pipeline"

	"github.com/spf13/cobra"
)

var preloadCmd = &cobra.Command{
	Use:   "preload [tenant_id]",
	Short: "Backfill orders and stocks for a tenant",
	Long: `Schedule a historical backfill for one tenant: 90 days of orders plus a
full stock snapshot. The work runs on the worker fleet; this command
only enqueues it. A backfill that overlaps an already running job for
the same tenant is skipped by the worker, not queued twice.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tenantID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			cmd.Printf("Invalid tenant id %q: %v\n", args[0], err)
			return
		}

		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			cmd.Printf("Failed to connect: %v\n", err)
			return
		}
		defer db.Close()

		taskID, err := pipeline.EnqueuePreload(ctx, db, tenantID)
		if err != nil {
			cmd.Printf("Failed to enqueue backfill: %v\n", err)
			return
		}

		cmd.Printf("🚀 Backfill queued!\nTenant: %d\nTask:   %d\n", tenantID, taskID)
	},
}

func init() {
	rootCmd.AddCommand(preloadCmd)
}
