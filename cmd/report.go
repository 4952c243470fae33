package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/robogauge/internal/report"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Render the stored results of a run (defaults to the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  printReport,
	}
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "table", "table, markdown or json")
	return cmd
}

func printReport(cmd *cobra.Command, args []string) error {
	switch flagFormat {
	case "table", "markdown", "json":
	default:
		return fmt.Errorf("unknown format %q", flagFormat)
	}
	dir, err := reportDir(args)
	if err != nil {
		return err
	}
	return report.Generate(dir, flagFormat, cmd.OutOrStdout())
}

// reportDir follows the latest symlink of the configured results dir
// unless a run dir is given.
func reportDir(args []string) (string, error) {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cfg.Results.Dir, "latest")
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("no run at %s: %w", dir, err)
	}
	return resolved, nil
}
