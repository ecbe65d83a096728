package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/imgchar/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Stage timings, failure and truncation rates from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		stats, err := analytics.QueryStageStats(database, since)
		if err != nil {
			return err
		}
		outcomes, err := analytics.QueryRunOutcomes(database, since)
		if err != nil {
			return err
		}
		truncations, err := analytics.QueryTruncations(database, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"stages":      stats,
				"runs":        outcomes,
				"truncations": truncations,
			})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Runs: %d (completed %d, truncated %d = %.1f%%, failed %d = %.1f%%)\n\n",
			outcomes.Total, outcomes.Completed, outcomes.Truncated, outcomes.TruncationPct,
			outcomes.Failed, outcomes.FailurePct)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tRUNS\tFAILED\tFAIL%\tAVG ms\tP50 ms\tP95 ms")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.1f\t%.1f\t%.1f\n",
				s.Stage, s.Runs, s.Failures, s.FailurePct, s.AvgMs, s.P50Ms, s.P95Ms)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(truncations) > 0 {
			fmt.Fprintln(out)
			for _, t := range truncations {
				fmt.Fprintf(out, "Truncated after %s: %d\n", t.After, t.Count)
			}
		}
		return nil
	},
}

func init() {
	analyticsCmd.Flags().String("since", "", "only events at or after this timestamp (e.g. 2024-06-01)")
	analyticsCmd.Flags().String("format", "text", "Output format: text or json")
}
