package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/GaryBoone/ai-critics/pkg/sandbox"
)

const (
	DefaultImage = "rust:1-slim"
	WorkDir      = "/work"

	LabelManager      = "manager"
	LabelManagerValue = "ai-critics"

	defaultMemoryBytes = 1 << 30
	removeTimeout      = 10 * time.Second
)

// Options configures the docker executor.
type Options struct {
	// Image is the toolchain image. Defaults to DefaultImage.
	Image string
	// MemoryBytes caps container memory. Defaults to 1GiB.
	MemoryBytes int64
	// Pull fetches the image when it is missing locally.
	Pull bool
}

// DockerManager implements sandbox.Executor with one throwaway container per command.
type DockerManager struct {
	cli  *client.Client
	opts Options
}

// Ensure DockerManager implements sandbox.Executor
var _ sandbox.Executor = (*DockerManager)(nil)

// New creates a new DockerManager.
func New(opts Options) (*DockerManager, error) {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = defaultMemoryBytes
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerManager{cli: cli, opts: opts}, nil
}

func (m *DockerManager) Close() error {
	return m.cli.Close()
}

func containerName() string {
	return fmt.Sprintf("critics-verify-%s", uuid.NewString()[:8])
}

// containerConfig builds the container and host configuration for running
// argv with the host directory dir mounted at WorkDir.
func containerConfig(opts Options, dir string, argv []string) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           opts.Image,
		Cmd:             argv,
		WorkingDir:      WorkDir,
		User:            fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		NetworkDisabled: true,
		Labels: map[string]string{
			LabelManager: LabelManagerValue,
		},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{dir + ":" + WorkDir},
		Resources: container.Resources{
			Memory: opts.MemoryBytes,
		},
	}
	return cfg, hostCfg
}

// Run executes argv in a fresh container and waits for it to exit.
func (m *DockerManager) Run(ctx context.Context, dir string, argv []string) (*sandbox.Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := m.ensureImage(ctx); err != nil {
		return nil, err
	}

	cfg, hostCfg := containerConfig(m.opts, abs, argv)
	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName())
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Remove even when ctx is already cancelled.
		rmCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		_ = m.cli.ContainerRemove(rmCtx, resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	if err := m.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := m.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exit int64
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		exit = status.StatusCode
	}

	stdout, stderr, err := m.logs(ctx, resp.ID)
	if err != nil {
		return nil, err
	}

	res := &sandbox.Result{Stdout: stdout, Stderr: stderr, ExitCode: int(exit)}
	// The shell convention for a signal death is 128+signo.
	if exit > 128 {
		res.Signaled = true
	}
	return res, nil
}

func (m *DockerManager) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := m.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (m *DockerManager) ensureImage(ctx context.Context) error {
	_, _, err := m.cli.ImageInspectWithRaw(ctx, m.opts.Image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) || !m.opts.Pull {
		return fmt.Errorf("sandbox image '%s' not available: %w", m.opts.Image, err)
	}

	rc, err := m.cli.ImagePull(ctx, m.opts.Image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", m.opts.Image, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", m.opts.Image, err)
	}
	return nil
}
