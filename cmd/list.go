package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/sim"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List terrains, goals, metrics, simulators and policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Terrains:")
			for _, name := range cfg.TerrainNames() {
				t := cfg.Terrains[name]
				kind := fmt.Sprintf("fixed, level %d", t.Level)
				if t.Searchable {
					kind = "searchable"
				}
				fmt.Fprintf(out, "  - %s (%s)\n", name, kind)
			}
			for _, sec := range []struct {
				title string
				names []string
			}{
				{"Goals", goal.Kinds()},
				{"Metrics", metric.Names()},
				{"Simulators", sim.Names()},
				{"Policies", policy.Names()},
			} {
				fmt.Fprintf(out, "\n%s: %s\n", sec.title, strings.Join(sec.names, ", "))
			}
			return nil
		},
	}
}
