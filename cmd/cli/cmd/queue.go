package cmd

import (
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the number of tasks waiting on the durable queue",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			cmd.Printf("Failed to connect: %v\n", err)
			return
		}
		defer db.Close()

		n, err := db.Count(ctx)
		if err != nil {
			cmd.Printf("Failed to count: %v\n", err)
			return
		}

		cmd.Printf("Tasks on queue: %d\n", n)
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
