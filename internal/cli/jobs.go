package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/voxrelay/voxrelay/internal/job"
	"github.com/voxrelay/voxrelay/internal/queue"
)

func init() {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show job counts per queue and status",
		Run:   runJobs,
	}

	RootCmd.AddCommand(cmd)
}

func runJobs(cmd *cobra.Command, _ []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	// Visibility timeout is irrelevant for a read-only stats query, but the
	// broker's reaper will requeue anything genuinely expired while we look.
	broker, err := queue.New(s.DB(), 5*time.Minute)
	if err != nil {
		exitErr("open queue", err)
	}
	defer broker.Close()

	counts, err := broker.Counts(cmd.Context())
	if err != nil {
		exitErr("count jobs", err)
	}

	statuses := []job.Status{job.StatusQueued, job.StatusRunning, job.StatusDone, job.StatusFailed}

	gray := color.New(color.FgHiBlack)
	fmt.Printf("%-10s", "queue")
	for _, st := range statuses {
		gray.Printf("%10s", st)
	}
	fmt.Println()

	for _, class := range job.Classes {
		fmt.Printf("%-10s", class)
		for _, st := range statuses {
			n := counts[class][st]
			switch {
			case n == 0:
				gray.Printf("%10d", n)
			case st == job.StatusFailed:
				color.New(color.FgRed).Printf("%10d", n)
			default:
				fmt.Printf("%10d", n)
			}
		}
		fmt.Println()
	}
}
