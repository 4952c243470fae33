package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalnine/robogauge/internal/docker"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
)

// Executor runs one cell in some isolation domain and always returns a cell
// record; failures are reported as error cells.
type Executor interface {
	Name() string
	Run(ctx context.Context, a Assignment, task *progress.Task) result.Cell
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// InProc runs cells as goroutines of the current process.
type InProc struct {
	Logger *slog.Logger
}

func (InProc) Name() string { return "inproc" }

func (e InProc) Run(ctx context.Context, a Assignment, task *progress.Task) result.Cell {
	logger := e.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return Execute(ctx, a, logger.With("cell", a.Key.String()), task)
}

// Subprocess re-executes a binary as a worker. The assignment goes in on
// stdin, the cell comes back on stdout and progress streams on fd 3.
type Subprocess struct {
	Binary string
	Logger *slog.Logger
}

func (Subprocess) Name() string { return "subprocess" }

// WorkerArgs are the arguments Subprocess passes to the binary.
var WorkerArgs = []string{"worker", "--in", "-", "--out", "-", "--progress-fd", "3"}

const stderrTail = 4096

func (e Subprocess) Run(ctx context.Context, a Assignment, task *progress.Task) result.Cell {
	start := time.Now()
	fail := func(err error, detail string) result.Cell {
		c := ErrorCell(a.Key, err, time.Since(start).Seconds())
		c.Detail = detail
		return c
	}
	bin := e.Binary
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return fail(fmt.Errorf("locating worker binary: %w", err), "")
		}
		bin = self
	}
	var stdin bytes.Buffer
	if err := WriteAssignment(&stdin, a); err != nil {
		return fail(err, "")
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return fail(fmt.Errorf("creating progress pipe: %w", err), "")
	}
	defer pr.Close()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, WorkerArgs...)
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.ExtraFiles = []*os.File{pw}
	if err := cmd.Start(); err != nil {
		pw.Close()
		return fail(fmt.Errorf("starting worker: %w", err), "")
	}
	pw.Close()
	relayed := make(chan error, 1)
	go func() { relayed <- task.Relay(pr) }()

	waitErr := cmd.Wait()
	if err := <-relayed; err != nil && e.Logger != nil {
		e.Logger.Warn("progress relay failed", "cell", a.Key.String(), "err", err)
	}
	tail := stderr.String()
	if len(tail) > stderrTail {
		tail = tail[len(tail)-stderrTail:]
	}
	if waitErr != nil {
		return fail(fmt.Errorf("worker exited: %w", waitErr), tail)
	}
	var cell result.Cell
	if err := json.Unmarshal(stdout.Bytes(), &cell); err != nil {
		return fail(fmt.Errorf("decoding worker result: %w", err), tail)
	}
	return cell
}

// Docker runs each cell in a fresh container with the cell directory
// mounted at /workspace.
type Docker struct {
	Image  string
	Binary string
	// Timeout bounds one container run; zero means none.
	Timeout     time.Duration
	CPULimit    float64
	MemoryLimit int64
	Logger      *slog.Logger

	// run is replaced in tests.
	run func(context.Context, *docker.RunOpts) (*docker.RunResult, error)
}

func (Docker) Name() string { return "docker" }

const (
	containerWorkspace = docker.Workspace
	containerModelDir  = "/model"
)

// ContainerCommand is the worker invocation inside the image.
func (e Docker) ContainerCommand() []string {
	bin := e.Binary
	if bin == "" {
		bin = "robogauge"
	}
	return []string{bin, "worker",
		"--in", containerWorkspace + "/assignment.json",
		"--out", containerWorkspace + "/result.json"}
}

func (e Docker) Run(ctx context.Context, a Assignment, task *progress.Task) result.Cell {
	start := time.Now()
	fail := func(err error, detail string) result.Cell {
		c := ErrorCell(a.Key, err, time.Since(start).Seconds())
		c.Detail = detail
		return c
	}
	if a.Dir == "" {
		return fail(fmt.Errorf("docker executor needs a cell directory"), "")
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return fail(fmt.Errorf("creating cell dir: %w", err), "")
	}
	inner, err := a.Clone()
	if err != nil {
		return fail(err, "")
	}
	inner.Dir = containerWorkspace
	var mounts []docker.Mount
	if mp := a.Policy.ModelPath; mp != "" {
		abs, err := filepath.Abs(mp)
		if err != nil {
			return fail(fmt.Errorf("resolving model path: %w", err), "")
		}
		target := containerModelDir + "/" + filepath.Base(abs)
		mounts = append(mounts, docker.Mount{Source: abs, Target: target, ReadOnly: true})
		inner.Policy.ModelPath = target
	}
	var buf bytes.Buffer
	if err := WriteAssignment(&buf, inner); err != nil {
		return fail(err, "")
	}
	if err := os.WriteFile(filepath.Join(a.Dir, "assignment.json"), buf.Bytes(), 0o644); err != nil {
		return fail(fmt.Errorf("writing assignment: %w", err), "")
	}
	absDir, err := filepath.Abs(a.Dir)
	if err != nil {
		return fail(fmt.Errorf("resolving cell dir: %w", err), "")
	}

	task.Describe("container " + e.Image)
	run := e.run
	if run == nil {
		run = docker.RunContainer
	}
	timeout := e.Timeout
	res, err := run(ctx, &docker.RunOpts{
		Image:       e.Image,
		Command:     e.ContainerCommand(),
		WorkDir:     absDir,
		Timeout:     timeout,
		ExtraMounts: mounts,
		CPULimit:    e.CPULimit,
		MemoryLimit: e.MemoryLimit,
		UserID:      fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	})
	if err != nil {
		return fail(fmt.Errorf("running container: %w", err), "")
	}
	if res.TimedOut {
		return fail(fmt.Errorf("cell timed out after %s", timeout), res.Logs)
	}
	if res.ExitCode != 0 {
		return fail(fmt.Errorf("worker container exited with code %d", res.ExitCode), res.Logs)
	}
	cell, err := result.ReadCell(filepath.Join(a.Dir, "result.json"))
	if err != nil {
		return fail(err, res.Logs)
	}
	return *cell
}

// NewExecutor resolves an executor by name.
func NewExecutor(name string, d Docker, logger *slog.Logger) (Executor, error) {
	switch strings.ToLower(name) {
	case "", "inproc":
		return InProc{Logger: logger}, nil
	case "subprocess":
		return Subprocess{Logger: logger}, nil
	case "docker":
		if d.Image == "" {
			return nil, fmt.Errorf("docker executor: image is required")
		}
		d.Logger = logger
		return d, nil
	}
	return nil, fmt.Errorf("unknown executor %q (want inproc, subprocess or docker)", name)
}
