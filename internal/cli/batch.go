package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/imgchar/internal/orchestrator"
	"github.com/lucasnoah/imgchar/internal/publish"
	"github.com/lucasnoah/imgchar/internal/stage"
)

// Manifest lists the exposures of a batch.
type Manifest struct {
	Runs []ManifestRun `yaml:"runs"`
}

// ManifestRun is one batch entry. An empty Stages means all stages.
type ManifestRun struct {
	Exposure string            `yaml:"exposure"`
	ID       map[string]string `yaml:"id"`
	Stages   string            `yaml:"stages"`
}

func loadManifest(path string) ([]orchestrator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}
	reqs := make([]orchestrator.Request, 0, len(m.Runs))
	for i, r := range m.Runs {
		if r.Exposure == "" {
			return nil, fmt.Errorf("runs[%d]: exposure is required", i)
		}
		mask, err := stage.ParseMask(r.Stages)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
		reqs = append(reqs, orchestrator.Request{Exposure: r.Exposure, ID: publish.DataID(r.ID), Stages: mask})
	}
	return reqs, nil
}

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.yaml>",
	Short: "Characterize every exposure listed in a manifest",
	Long: `Runs independent exposures on a bounded worker pool. A failed run does
not stop the batch; interrupting stops new runs from starting.

Manifest format:

  runs:
    - exposure: /data/raw/v85408556.fits
      id: {visit: "85408556", raft: "2,2", sensor: "1,1"}
      stages: all`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := loadManifest(args[0])
		if err != nil {
			return err
		}

		orch, cfg, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		workers, _ := cmd.Flags().GetInt("workers")
		if workers <= 0 {
			workers = cfg.Pipeline.Workers
		}

		results, batchErr := orch.RunBatch(cmd.Context(), reqs, workers)

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			type row struct {
				DataID  string `json:"data_id"`
				Outcome any    `json:"outcome,omitempty"`
				Error   string `json:"error,omitempty"`
			}
			rows := make([]row, 0, len(results))
			for _, r := range results {
				rw := row{DataID: r.Request.ID.String()}
				if r.Outcome != nil {
					rw.Outcome = r.Outcome
				}
				if r.Err != nil {
					rw.Error = r.Err.Error()
				}
				rows = append(rows, rw)
			}
			if err := writeJSON(cmd.OutOrStdout(), rows); err != nil {
				return err
			}
			return batchErr
		}

		failed := 0
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATA ID\tRUN\tOUTCOME\tRAN\tERROR")
		for _, r := range results {
			runID, kind, ran := "-", "not started", "-"
			if r.Outcome != nil {
				runID, kind, ran = r.Outcome.RunID, r.Outcome.Kind.String(), r.Outcome.RanMask().String()
			}
			msg := ""
			if r.Err != nil {
				failed++
				msg = r.Err.Error()
				if len(msg) > 60 {
					msg = msg[:57] + "..."
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Request.ID, runID, kind, ran, msg)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if batchErr != nil {
			return batchErr
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d runs had errors", failed, len(results))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().Int("workers", 0, "parallel runs (default: pipeline.workers from config)")
	batchCmd.Flags().String("format", "text", "Output format: text or json")
}
