package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/robogauge/internal/logging"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
)

var (
	flagWorkerIn         string
	flagWorkerOut        string
	flagWorkerProgressFD int
)

// newWorkerCmd runs one cell for the subprocess and docker executors.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one grid cell from an assignment file",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagWorkerIn, "in", "-", "assignment path, - for stdin")
	cmd.Flags().StringVar(&flagWorkerOut, "out", "-", "result path, - for stdout")
	cmd.Flags().IntVar(&flagWorkerProgressFD, "progress-fd", 0, "file descriptor for progress events, 0 disables")
	return cmd
}

func runWorker(stdin io.Reader, stdout io.Writer) error {
	in := stdin
	if flagWorkerIn != "-" {
		f, err := os.Open(flagWorkerIn)
		if err != nil {
			return fmt.Errorf("opening assignment: %w", err)
		}
		defer f.Close()
		in = f
	}
	a, err := runner.ReadAssignment(in)
	if err != nil {
		return err
	}

	// Workers log to a file only; stdout carries the result.
	logCfg := logging.Config{Level: a.LogLevel}
	if a.Dir != "" {
		logCfg.File = filepath.Join(a.Dir, result.LogFile)
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	var task *progress.Task
	if flagWorkerProgressFD > 0 {
		f := os.NewFile(uintptr(flagWorkerProgressFD), "progress")
		defer f.Close()
		enc := progress.NewEncoder(f)
		task = progress.Start(enc, a.Key.String(), 0)
		defer func() {
			if err := enc.Err(); err != nil {
				logger.Warn("progress stream failed", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cell := runner.Execute(ctx, a, logger.With("cell", a.Key.String()), task)

	out := stdout
	if flagWorkerOut != "-" {
		f, err := os.Create(flagWorkerOut)
		if err != nil {
			return fmt.Errorf("creating result file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := json.NewEncoder(out).Encode(cell); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}
