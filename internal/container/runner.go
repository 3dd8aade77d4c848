package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/splax/templatehub/internal/process"
)

const workspaceMount = "/workspace"

// Runner executes install and build commands inside a throwaway container
// with the command directory bind-mounted at /workspace.
// Commands run as the server's own uid:gid so everything they write into the
// workspace can be removed by the workspace manager afterwards.
type Runner struct {
	client *Client
	image  string
	user   string
	logger *slog.Logger
}

// NewRunner returns a process.Runner backed by Docker.
func NewRunner(cli *Client, imageRef string, logger *slog.Logger) *Runner {
	return &Runner{client: cli, image: strings.TrimSpace(imageRef), user: hostUser(), logger: logger}
}

// hostUser returns "uid:gid" of the current process, or "" where the
// platform has no numeric ids.
func hostUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}

// containerEnv gives unprivileged users a writable HOME for package manager
// caches unless the command sets one.
func containerEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "HOME=") {
			return env
		}
	}
	return append(append([]string(nil), env...), "HOME=/tmp")
}

// Run creates a container for cmd, waits for it to exit and returns its
// combined output. The container is always removed.
func (r *Runner) Run(ctx context.Context, cmd process.Command) (string, error) {
	if r.client == nil || r.client.inner == nil {
		return "", fmt.Errorf("docker client not initialized")
	}
	if r.image == "" {
		return "", fmt.Errorf("build image cannot be empty")
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return "", fmt.Errorf("command name cannot be empty")
	}
	dir, err := filepath.Abs(cmd.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve command dir: %w", err)
	}
	if err := r.ensureImage(ctx); err != nil {
		return "", err
	}

	cli := r.client.inner
	created, err := cli.ContainerCreate(ctx, &dockercontainer.Config{
		Image:      r.image,
		Cmd:        append([]string{cmd.Name}, cmd.Args...),
		Env:        containerEnv(cmd.Env),
		User:       r.user,
		WorkingDir: workspaceMount,
		Tty:        false,
	}, &dockercontainer.HostConfig{
		Mounts: []mount.Mount{{Type: mount.TypeBind, Source: dir, Target: workspaceMount}},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create build container: %w", err)
	}
	defer func() {
		if err := cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, dockercontainer.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !errdefs.IsNotFound(err) && r.logger != nil {
			r.logger.Warn("remove build container failed", "container_id", created.ID, "error", err)
		}
	}()

	if err := cli.ContainerStart(ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
		return "", fmt.Errorf("start build container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := cli.ContainerWait(ctx, created.ID, dockercontainer.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("wait build container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return "", fmt.Errorf("wait build container: %s", status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	output, err := r.collectLogs(ctx, created.ID)
	if err != nil {
		return "", err
	}
	if r.logger != nil && output != "" {
		r.logger.Debug("container command output", "command", cmd.String(), "output", process.Truncate(output))
	}
	if exitCode != 0 {
		exitErr := process.NewExitError(cmd.String(), output, fmt.Errorf("container exited with status %d", exitCode))
		exitErr.ExitCode = int(exitCode)
		return output, exitErr
	}
	return output, nil
}

func (r *Runner) ensureImage(ctx context.Context) error {
	cli := r.client.inner
	if _, err := cli.ImageInspect(ctx, r.image); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect build image: %w", err)
	}
	if r.logger != nil {
		r.logger.Info("pulling build image", "image", r.image)
	}
	rc, err := cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull build image: %w", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull build image: %w", err)
	}
	return nil
}

func (r *Runner) collectLogs(ctx context.Context, id string) (string, error) {
	rc, err := r.client.inner.ContainerLogs(ctx, id, dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("read build container logs: %w", err)
	}
	defer rc.Close()
	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, rc); err != nil {
		return "", fmt.Errorf("demux build container logs: %w", err)
	}
	return combined.String(), nil
}
