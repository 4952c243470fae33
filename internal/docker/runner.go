// Package docker runs one isolated evaluation worker in a container.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// Label marks every container this package creates.
const Label = "robogauge"

// Workspace is where RunOpts.WorkDir appears inside the container.
const Workspace = "/workspace"

// ExitTimeout is reported when the cell outlives its timeout.
const ExitTimeout = 124

var (
	ErrNoImage = errors.New("container image is required")
	ErrWorkDir = errors.New("work dir must be an absolute path")
)

type RunOpts struct {
	Image   string
	Command []string
	// WorkDir is bind-mounted read-write at Workspace.
	WorkDir string
	Env     map[string]string
	// Timeout kills the container once reached; zero waits for exit.
	Timeout     time.Duration
	ExtraMounts []Mount
	// CPULimit is in cores, MemoryLimit in bytes; zero means unlimited.
	CPULimit    float64
	MemoryLimit int64
	// UserID is uid:gid so files in WorkDir stay owned by the caller.
	UserID string
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	// Logs is the tail of the container's stdout and stderr.
	Logs string
}

const logTail = "100"

func (o *RunOpts) validate() error {
	if o.Image == "" {
		return ErrNoImage
	}
	if !filepath.IsAbs(o.WorkDir) {
		return fmt.Errorf("%w: %q", ErrWorkDir, o.WorkDir)
	}
	return nil
}

// containerConfig is the container half of the create request. Env is
// sorted so identical options give identical requests.
func containerConfig(o *RunOpts) *container.Config {
	env := make([]string, 0, len(o.Env))
	for k, v := range o.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return &container.Config{
		Image:      o.Image,
		Cmd:        o.Command,
		Env:        env,
		WorkingDir: Workspace,
		User:       o.UserID,
		Labels:     map[string]string{Label: "true"},
	}
}

// hostConfig mounts the workspace and extra mounts and applies resource
// limits. Cells never get a network.
func hostConfig(o *RunOpts) *container.HostConfig {
	mounts := make([]mount.Mount, 0, 1+len(o.ExtraMounts))
	mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: o.WorkDir, Target: Workspace})
	for _, m := range o.ExtraMounts {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}
	tini := true
	hc := &container.HostConfig{
		Mounts:      mounts,
		Init:        &tini,
		NetworkMode: "none",
	}
	if o.CPULimit > 0 {
		hc.NanoCPUs = int64(o.CPULimit * 1e9)
	}
	if o.MemoryLimit > 0 {
		hc.Memory = o.MemoryLimit
	}
	return hc
}

// RunContainer runs opts.Command to completion and removes the container.
// A non-zero exit is a result, not an error; errors mean the container
// could not be run at all.
func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	created, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerConfig(opts),
		HostConfig: hostConfig(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := created.ID
	defer func() {
		cli.ContainerRemove(context.Background(), id, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()
	wait := cli.ContainerWait(waitCtx, id, client.ContainerWaitOptions{Condition: container.WaitConditionNotRunning})
	for {
		select {
		case err := <-wait.Error:
			if err == nil {
				continue
			}
			cli.ContainerKill(context.Background(), id, client.ContainerKillOptions{Signal: "SIGKILL"})
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("waiting for container: %w", err)
			}
			return &RunResult{ExitCode: ExitTimeout, TimedOut: true, Duration: time.Since(start), Logs: logs(cli, id)}, nil
		case status := <-wait.Result:
			return &RunResult{ExitCode: int(status.StatusCode), Duration: time.Since(start), Logs: logs(cli, id)}, nil
		}
	}
}

// logs returns the demultiplexed output tail, empty when it cannot be read.
func logs(cli *client.Client, id string) string {
	r, err := cli.ContainerLogs(context.Background(), id, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Tail: logTail})
	if err != nil || r == nil {
		return ""
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, r); err != nil {
		return buf.String()
	}
	return buf.String()
}
