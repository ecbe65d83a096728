package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/imgchar/internal/pipeline"
	"github.com/lucasnoah/imgchar/internal/publish"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		statusFilter, _ := cmd.Flags().GetString("status")
		runs, err := store.List(statusFilter)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-10s %-20s %-40s %s\n", "RUN", "STATUS", "CREATED", "DATA ID", "RAN")
		fmt.Fprintf(w, "%-36s %-10s %-20s %-40s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 10),
			strings.Repeat("-", 20),
			strings.Repeat("-", 40),
			strings.Repeat("-", 3))
		for _, r := range runs {
			ran := make([]string, 0, len(r.Ran))
			for _, id := range r.Ran {
				ran = append(ran, id.String())
			}
			fmt.Fprintf(w, "%-36s %-10s %-20s %-40s %s\n",
				r.RunID, r.Status, r.CreatedAt, publish.DataID(r.DataID), strings.Join(ran, ","))
		}
		return nil
	},
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show detailed run status and its event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), rs)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s: %s\n", rs.RunID, rs.Status)
		fmt.Fprintf(w, "  Data ID:   %s\n", publish.DataID(rs.DataID))
		fmt.Fprintf(w, "  Family:    %s\n", rs.Family)
		fmt.Fprintf(w, "  Requested: %s\n", rs.Requested)
		fmt.Fprintf(w, "  Enabled:   %s\n", rs.Enabled)
		for _, ev := range rs.Truncations {
			fmt.Fprintf(w, "  Truncated: %s empty after %s, skipped %s\n", ev.Key, ev.After, ev.Disabled)
		}
		for _, warning := range rs.Warnings {
			fmt.Fprintf(w, "  Warning:   %s\n", warning)
		}
		if rs.FailedStage != nil {
			fmt.Fprintf(w, "  Failed at: %s\n", *rs.FailedStage)
		}
		if rs.Error != "" {
			fmt.Fprintf(w, "  Error:     %s\n", rs.Error)
		}
		if len(rs.Published) > 0 {
			fmt.Fprintf(w, "  Published: %s\n", strings.Join(rs.Published, ", "))
		}
		if len(rs.Skipped) > 0 {
			fmt.Fprintf(w, "  Skipped:   %s\n", strings.Join(rs.Skipped, ", "))
		}
		fmt.Fprintf(w, "  Created:   %s\n", rs.CreatedAt)
		fmt.Fprintf(w, "  Updated:   %s\n", rs.UpdatedAt)

		database, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()
		history, err := database.GetRunHistory(rs.RunID)
		if err != nil {
			return err
		}
		if len(history) > 0 {
			fmt.Fprintln(w, "  Events:")
			for _, e := range history {
				line := fmt.Sprintf("    %s %-15s", e.Timestamp, e.Event)
				if e.Stage != "" {
					line += " " + e.Stage
				}
				if e.DurationMs > 0 {
					line += fmt.Sprintf(" (%dms)", e.DurationMs)
				}
				if e.Detail != "" {
					line += " " + e.Detail
				}
				fmt.Fprintln(w, line)
			}
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status: running, completed, truncated, failed")
	runsStatusCmd.Flags().String("format", "text", "Output format: text or json")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatusCmd)
}
