package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/robogauge/internal/config"
)

const defaultConfig = "robogauge.yaml"

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "robogauge",
		Short:        "Robustness benchmark for legged locomotion policies",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfig, "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newWorkerCmd())
	return root
}

// loadConfig reads cfgFile. A missing default file means built-in defaults.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == defaultConfig {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}
