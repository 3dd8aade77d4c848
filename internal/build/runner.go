package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/splax/templatehub/internal/framework"
	"github.com/splax/templatehub/internal/process"
)

// ErrOutputNotFound indicates the build left no output directory behind.
var ErrOutputNotFound = errors.New("build output not found")

// Runner installs dependencies and builds projects.
type Runner struct {
	exec    process.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Runner. timeout bounds each install or build step.
func New(exec process.Runner, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Runner{exec: exec, timeout: timeout, logger: logger}
}

// Install installs dependencies when the project has a package manifest.
func (r *Runner) Install(ctx context.Context, root string, profile framework.Profile) error {
	if !profile.HasManifest {
		return nil
	}
	return r.run(ctx, "install", process.Command{
		Dir:  root,
		Name: profile.PackageManager.String(),
		Args: []string{"install"},
		Env:  []string{"CI=true"},
	})
}

// Build runs the profile's build command, if any.
func (r *Runner) Build(ctx context.Context, root string, profile framework.Profile) error {
	if len(profile.BuildCommand) == 0 {
		return nil
	}
	return r.run(ctx, "build", process.Command{
		Dir:  root,
		Name: profile.BuildCommand[0],
		Args: profile.BuildCommand[1:],
		Env:  []string{"CI=true", "NODE_ENV=production", "NEXT_TELEMETRY_DISABLED=1"},
	})
}

// Output returns the absolute build output directory. It fails when the
// directory is missing, whatever the build's exit status was.
func (r *Runner) Output(root string, profile framework.Profile) (string, error) {
	dir := filepath.Join(root, filepath.FromSlash(profile.OutputDir))
	if !isDir(dir) {
		return "", fmt.Errorf("%w: %s", ErrOutputNotFound, profile.OutputDir)
	}
	// Angular 17+ writes the browser bundle into a sub-directory.
	if profile.Framework == framework.FrameworkAngular {
		if browser := filepath.Join(dir, "browser"); isDir(browser) {
			return browser, nil
		}
	}
	return dir, nil
}

func (r *Runner) run(ctx context.Context, step string, cmd process.Command) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := time.Now()
	if r.logger != nil {
		r.logger.Info("running "+step, "command", cmd.String(), "dir", cmd.Dir)
	}
	_, err := r.exec.Run(ctx, cmd)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s: %w", step, r.timeout, err)
		}
		return fmt.Errorf("%s failed: %w", step, err)
	}
	if r.logger != nil {
		r.logger.Info(step+" completed", "command", cmd.String(), "duration", time.Since(started).String())
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
