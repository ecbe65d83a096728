package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/imgchar/internal/orchestrator"
	"github.com/lucasnoah/imgchar/internal/publish"
	"github.com/lucasnoah/imgchar/internal/stage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Characterize one exposure",
	Long: `Runs the requested stages, plus every stage they depend on, for one
exposure and publishes the outputs that exist afterwards.

  imgchar run --exposure /data/raw/v85408556.fits \
      --id visit=85408556 --id raft=2,2 --id sensor=1,1 --stages psf,wcs`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		exposure, _ := cmd.Flags().GetString("exposure")
		ids, _ := cmd.Flags().GetStringArray("id")
		stagesFlag, _ := cmd.Flags().GetString("stages")
		format, _ := cmd.Flags().GetString("format")

		id, err := publish.ParseDataID(ids)
		if err != nil {
			return err
		}
		mask, err := stage.ParseMask(stagesFlag)
		if err != nil {
			return err
		}

		orch, _, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		out, runErr := orch.Run(cmd.Context(), orchestrator.Request{Exposure: exposure, ID: id, Stages: mask})
		if out == nil {
			return runErr
		}
		if format == "json" {
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
		} else {
			printOutcome(cmd.OutOrStdout(), out)
		}
		return runErr
	},
}

func printOutcome(w io.Writer, out *stage.Outcome) {
	fmt.Fprintf(w, "Run %s: %s\n", out.RunID, out.Kind)
	fmt.Fprintf(w, "  Requested: %s\n", out.Requested)
	fmt.Fprintf(w, "  Enabled:   %s\n", out.Enabled)
	fmt.Fprintf(w, "  Ran:       %s\n", out.RanMask())
	for _, ev := range out.Truncations {
		fmt.Fprintf(w, "  Truncated: %s empty after %s, skipped %s\n", ev.Key, ev.After, ev.Disabled)
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "  Warning:   %s\n", warning)
	}
	if out.FailedStage != nil {
		fmt.Fprintf(w, "  Failed at: %s\n", *out.FailedStage)
	}
	if out.Err != nil {
		fmt.Fprintf(w, "  Error:     %v\n", out.Err)
	}
}

func init() {
	runCmd.Flags().String("exposure", "", "exposure to characterize (passed to stage commands as visitExposure)")
	runCmd.Flags().StringArray("id", nil, "data id component as key=value (repeatable)")
	runCmd.Flags().String("stages", "all", "comma-separated stages to run, or all")
	runCmd.Flags().String("format", "text", "Output format: text or json")
	_ = runCmd.MarkFlagRequired("exposure")
}
