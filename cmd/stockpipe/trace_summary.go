package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

var traceSummaryCmd = &cobra.Command{
	Use:   "summary [trace.jsonl]",
	Short: "Summarize the runs recorded in a trace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceSummary,
}

func runTraceSummary(cmd *cobra.Command, args []string) error {
	events, err := trace.ReadFile(args[0])
	if err != nil {
		return err
	}
	runs := trace.Summarize(events)
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	incomplete := 0
	for _, r := range runs {
		name := r.Pipeline
		if name == "" {
			name = r.RunID
		}
		switch trace.StepStatus(r.Status) {
		case trace.StatusSuccess:
			fmt.Printf("%s %s  %s  %s\n", okStyle.Render("✓"), name, r.StatusCounts(), dimStyle.Render(r.Duration))
		case trace.StatusFailed:
			fmt.Printf("%s %s  %s  %s\n", failStyle.Render("✗"), name, r.StatusCounts(), dimStyle.Render(r.Duration))
		default:
			incomplete++
			fmt.Printf("%s %s  %s  (incomplete)\n", warnStyle.Render("…"), name, r.StatusCounts())
		}
		for _, f := range r.Failures {
			fmt.Printf("    %s\n", f)
		}
	}
	if incomplete > 0 {
		fmt.Printf("\n%d run(s) have no run_complete event\n", incomplete)
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceSummaryCmd)
	rootCmd.AddCommand(traceCmd)
}
