package docker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/robogauge/internal/docker"
)

func needDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("ROBOGAUGE_DOCKER_TESTS") == "" {
		t.Skip("set ROBOGAUGE_DOCKER_TESTS=1 to run Docker tests")
	}
}

func TestRunContainer(t *testing.T) {
	needDocker(t)
	tests := []struct {
		name     string
		cmd      string
		timeout  time.Duration
		exit     int
		timedOut bool
		logs     string
	}{
		{"worker writes result", "cp assignment.json result.json && echo worker done", 30 * time.Second, 0, false, "worker done"},
		{"stderr is captured", "echo model missing >&2; exit 3", 10 * time.Second, 3, false, "model missing"},
		{"timeout kills", "sleep 300", 2 * time.Second, docker.ExitTimeout, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, "assignment.json"), []byte(`{"key":{"seed":1}}`), 0o644)

			res, err := docker.RunContainer(ctx, &docker.RunOpts{
				Image:   "alpine:latest",
				Command: []string{"sh", "-c", tt.cmd},
				WorkDir: dir,
				Timeout: tt.timeout,
			})
			if err != nil {
				t.Fatalf("RunContainer: %v", err)
			}
			if res.ExitCode != tt.exit || res.TimedOut != tt.timedOut {
				t.Errorf("got exit %d timedOut %v, want %d %v", res.ExitCode, res.TimedOut, tt.exit, tt.timedOut)
			}
			if !strings.Contains(res.Logs, tt.logs) {
				t.Errorf("logs: %q", res.Logs)
			}
		})
	}
}

func TestRunContainerRejectsBadOptions(t *testing.T) {
	_, err := docker.RunContainer(context.Background(), &docker.RunOpts{WorkDir: t.TempDir(), Timeout: time.Second})
	if !errors.Is(err, docker.ErrNoImage) {
		t.Errorf("got %v, want ErrNoImage", err)
	}
}
