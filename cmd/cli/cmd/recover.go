package cmd

import (
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail every orphaned running job",
	Long: `Mark all running jobs as failed. Use after a worker crash left running
rows behind: an orphaned running job blocks its (tenant, kind) slot
until it is resolved. The worker does this itself on startup; this
command is the manual escape hatch when no worker is coming back.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			cmd.Printf("Failed to connect: %v\n", err)
			return
		}
		defer db.Close()

		n, err := db.RecoverOrphans(ctx, "recovered by operator")
		if err != nil {
			cmd.Printf("Recovery failed: %v\n", err)
			return
		}

		if n == 0 {
			cmd.Println("No orphaned jobs found")
			return
		}
		cmd.Printf("%s✓%s Resolved %d orphaned job(s) as failed\n", colorGreen, colorReset, n)
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
