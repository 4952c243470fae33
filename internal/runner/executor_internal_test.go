package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/robogauge/internal/docker"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/result"
)

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func TestDockerExecutor(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(model, []byte("weights: []\n"), 0o644)

	var opts *docker.RunOpts
	e := Docker{
		Image: "robogauge:test",
		run: func(_ context.Context, o *docker.RunOpts) (*docker.RunResult, error) {
			opts = o
			in, err := os.Open(filepath.Join(o.WorkDir, "assignment.json"))
			if err != nil {
				return nil, err
			}
			defer in.Close()
			a, err := ReadAssignment(in)
			if err != nil {
				return nil, err
			}
			if a.Dir != containerWorkspace || !strings.HasPrefix(a.Policy.ModelPath, containerModelDir+"/") {
				t.Errorf("container assignment not rewritten: dir=%q model=%q", a.Dir, a.Policy.ModelPath)
			}
			cell := &result.Cell{Key: a.Key, Status: result.CellSuccess, Result: &result.EpisodeResult{Status: result.StatusOK}}
			if err := writeJSON(filepath.Join(o.WorkDir, "result.json"), cell); err != nil {
				return nil, err
			}
			return &docker.RunResult{ExitCode: 0}, nil
		},
	}
	a := Assignment{Key: result.CellKey{Seed: 2, Friction: 1}, Dir: dir, Policy: policy.Spec{Name: "linear", ModelPath: model}}
	cell := e.Run(context.Background(), a, nil)
	if cell.Status != result.CellSuccess {
		t.Fatalf("status %s: %s", cell.Status, cell.Error)
	}
	if cell.Key != a.Key {
		t.Errorf("key: got %v", cell.Key)
	}
	if opts == nil || opts.Image != "robogauge:test" || len(opts.ExtraMounts) != 1 || !opts.ExtraMounts[0].ReadOnly {
		t.Errorf("run opts: %+v", opts)
	}
	if opts != nil && opts.Timeout != 0 {
		t.Errorf("unset timeout should stay unbounded, got %s", opts.Timeout)
	}
	if got := strings.Join(opts.Command, " "); got != "robogauge worker --in /workspace/assignment.json --out /workspace/result.json" {
		t.Errorf("command: %q", got)
	}
}

func TestDockerExecutorFailures(t *testing.T) {
	tests := []struct {
		name string
		res  docker.RunResult
		want string
	}{
		{"timeout", docker.RunResult{ExitCode: 124, TimedOut: true, Logs: "stepping"}, "timed out"},
		{"crash", docker.RunResult{ExitCode: 2, Logs: "segfault in physics"}, "exited with code 2"},
		{"no result", docker.RunResult{ExitCode: 0}, "result.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Docker{
				Image: "robogauge:test",
				run: func(context.Context, *docker.RunOpts) (*docker.RunResult, error) {
					res := tt.res
					return &res, nil
				},
			}
			cell := e.Run(context.Background(), Assignment{Dir: t.TempDir()}, nil)
			if cell.Status != result.CellError {
				t.Fatalf("status: got %s", cell.Status)
			}
			if !strings.Contains(cell.Error, tt.want) {
				t.Errorf("error %q does not mention %q", cell.Error, tt.want)
			}
			if cell.Detail != tt.res.Logs {
				t.Errorf("detail: got %q, want %q", cell.Detail, tt.res.Logs)
			}
		})
	}
}

func TestDockerExecutorNeedsDir(t *testing.T) {
	cell := Docker{Image: "x"}.Run(context.Background(), Assignment{}, nil)
	if cell.Status != result.CellError {
		t.Errorf("status: got %s", cell.Status)
	}
}

func TestNewExecutor(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		want    string
		wantErr bool
	}{
		{"", "", "inproc", false},
		{"inproc", "", "inproc", false},
		{"Subprocess", "", "subprocess", false},
		{"docker", "robogauge:latest", "docker", false},
		{"docker", "", "", true},
		{"slurm", "", "", true},
	}
	for _, tt := range tests {
		e, err := NewExecutor(tt.name, Docker{Image: tt.image}, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewExecutor(%q) err = %v", tt.name, err)
			continue
		}
		if err == nil && e.Name() != tt.want {
			t.Errorf("NewExecutor(%q).Name() = %q, want %q", tt.name, e.Name(), tt.want)
		}
	}
}
