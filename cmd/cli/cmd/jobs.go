package cmd

import (
	"fmt"
	"strconv"
	"time"

	"sellwatch/internal/store"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [tenant_id]",
	Short: "List the running jobs of a tenant",
	Long: `List the jobs currently holding a (tenant, kind) slot. A running job
blocks every other job in its conflict set: the notification pipeline
and the backfill exclude each other, the stock refresh only itself.`,
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

		jobs, err := db.ActiveJobs(ctx, tenantID)
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}

		if len(jobs) == 0 {
			cmd.Printf("No running jobs for tenant %d\n", tenantID)
			return
		}

		cmd.Printf("%sRunning jobs for tenant %d%s\n", colorBold, tenantID, colorReset)
		cmd.Println("──────────────────────────────")
		for _, job := range jobs {
			printJob(cmd, job)
		}
	},
}

func printJob(cmd *cobra.Command, job store.Job) {
	cmd.Printf("%s %s%s%s\n", statusIcon(job.Status), colorBold, job.Kind, colorReset)
	cmd.Printf("  %sID:%s       %s\n", colorDim, colorReset, job.ID)
	if job.CorrelationID != nil {
		cmd.Printf("  %sTask:%s     %s\n", colorDim, colorReset, *job.CorrelationID)
	}
	cmd.Printf("  %sStarted:%s  %s %s(%s ago)%s\n", colorDim, colorReset,
		job.CreatedAt.Format("Mon, 02 Jan 2006 15:04:05 MST"),
		colorDim, relativeTime(job.CreatedAt), colorReset)
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func statusIcon(status store.JobStatus) string {
	switch status {
	case store.JobStatusCompleted:
		return colorGreen + "✓" + colorReset
	case store.JobStatusFailed:
		return colorRed + "✗" + colorReset
	case store.JobStatusRunning:
		return colorYellow + "⏳" + colorReset
	default:
		return "•"
	}
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}
