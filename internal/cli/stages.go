package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/imgchar/internal/stage"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Inspect the stage table",
}

var stagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stages in execution order with their inputs, outputs and parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := stage.MustRegistry()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tINPUTS\tOUTPUTS\tPARAMS")
		for _, id := range reg.ExecutionOrder() {
			spec := reg.SpecFor(id)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id,
				strings.Join(spec.Inputs, ","),
				strings.Join(spec.Outputs, ","),
				formatParams(spec.Params))
		}
		return w.Flush()
	},
}

var stagesResolveCmd = &cobra.Command{
	Use:   "resolve <stages>",
	Short: "Show which stages a request enables once prerequisites are added",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requested, err := stage.ParseMask(args[0])
		if err != nil {
			return err
		}
		enabled := stage.MustRegistry().Resolve(requested)
		fmt.Fprintf(cmd.OutOrStdout(), "requested: %s\n", requested)
		fmt.Fprintf(cmd.OutOrStdout(), "enabled:   %s\n", enabled)
		if added := enabled.Minus(requested); !added.Empty() {
			fmt.Fprintf(cmd.OutOrStdout(), "added:     %s\n", added)
		}
		return nil
	},
}

func formatParams(p stage.Params) string {
	if len(p) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	stagesCmd.AddCommand(stagesListCmd)
	stagesCmd.AddCommand(stagesResolveCmd)
}
