package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/splax/templatehub/internal/process"
	"github.com/splax/templatehub/internal/workspace"
)

// ErrNothingToPublish indicates the snapshot to publish is empty.
var ErrNothingToPublish = errors.New("nothing to publish")

const tokenUser = "x-access-token"

var credentialsInURL = regexp.MustCompile(`://[^/@\s]+@`)

// Options configures the git driver.
type Options struct {
	Timeout     time.Duration
	AuthorName  string
	AuthorEmail string
	Logger      *slog.Logger
}

// Driver runs git through a process.Runner.
type Driver struct {
	runner process.Runner
	opts   Options
}

// New returns a Driver. runner executes git on the host.
func New(runner process.Runner, opts Options) *Driver {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "Template Hub"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "deploy@templatehub.local"
	}
	return &Driver{runner: runner, opts: opts}
}

// Clone clones remoteURL into dest. dest must not exist yet.
func (d *Driver) Clone(ctx context.Context, remoteURL, dest string) error {
	if remoteURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create clone parent: %w", err)
	}
	if _, err := d.git(ctx, parent, nil, "clone", "--depth", "1", remoteURL, dest); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// RewriteRemoteCredentials points origin at an https URL carrying token and
// disables every credential helper inherited from the environment.
func (d *Driver) RewriteRemoteCredentials(ctx context.Context, dir, token string) error {
	out, err := d.git(ctx, dir, nil, "remote", "get-url", "origin")
	if err != nil {
		return fmt.Errorf("read origin: %w", err)
	}
	current := strings.TrimSpace(out)
	rewritten, err := withToken(current, token)
	if err != nil {
		return err
	}
	secrets := []string{token, url.UserPassword(tokenUser, token).String()}
	if _, err := d.git(ctx, dir, secrets, "remote", "set-url", "origin", rewritten); err != nil {
		return fmt.Errorf("set origin: %w", err)
	}
	// Exit status 5 means no helper was configured locally.
	if _, err := d.git(ctx, dir, nil, "config", "--local", "--unset-all", "credential.helper"); err != nil {
		var exitErr *process.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode != 5 {
			return fmt.Errorf("unset credential helper: %w", err)
		}
	}
	if _, err := d.git(ctx, dir, nil, "config", "--local", "credential.helper", ""); err != nil {
		return fmt.Errorf("disable credential helper: %w", err)
	}
	return nil
}

// PublishOrphanBranch replaces the content of branch with snapshotDir and
// force-pushes it to origin. The branch carries no history from the
// template. A commit is only created when the tree changed.
func (d *Driver) PublishOrphanBranch(ctx context.Context, dir, branch, message, snapshotDir string) error {
	empty, err := workspace.IsEmptyDir(snapshotDir)
	if err != nil {
		return fmt.Errorf("inspect snapshot: %w", err)
	}
	if empty {
		return ErrNothingToPublish
	}

	if _, err := d.git(ctx, dir, nil, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		if _, err := d.git(ctx, dir, nil, "checkout", "-f", branch); err != nil {
			return fmt.Errorf("checkout %s: %w", branch, err)
		}
		if _, err := d.git(ctx, dir, nil, "reset", "--hard"); err != nil {
			return fmt.Errorf("reset %s: %w", branch, err)
		}
	} else {
		if _, err := d.git(ctx, dir, nil, "checkout", "--orphan", branch); err != nil {
			return fmt.Errorf("create orphan %s: %w", branch, err)
		}
	}
	// The snapshot is restored into an empty tree so files dropped since the
	// last publish do not survive.
	if _, err := d.git(ctx, dir, nil, "rm", "-r", "-f", "-q", "--ignore-unmatch", "."); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if _, err := d.git(ctx, dir, nil, "clean", "-fdx"); err != nil {
		return fmt.Errorf("clean worktree: %w", err)
	}
	if err := workspace.CopyTree(snapshotDir, dir, ".git"); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if _, err := d.git(ctx, dir, nil, "add", "-A"); err != nil {
		return fmt.Errorf("stage files: %w", err)
	}
	status, err := d.git(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if strings.TrimSpace(status) != "" {
		if _, err := d.git(ctx, dir, nil,
			"-c", "user.name="+d.opts.AuthorName,
			"-c", "user.email="+d.opts.AuthorEmail,
			"commit", "-m", message); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	} else if d.opts.Logger != nil {
		d.opts.Logger.Info("publish tree unchanged; skipping commit", "branch", branch)
	}
	if _, err := d.git(ctx, dir, nil, "push", "-f", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

func (d *Driver) git(ctx context.Context, dir string, secrets []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	out, err := d.runner.Run(ctx, process.Command{
		Dir:  dir,
		Name: "git",
		Args: args,
		// Prevent git from prompting for credentials interactively.
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		return out, scrub(err, secrets)
	}
	return out, nil
}

func withToken(remote, token string) (string, error) {
	parsed, err := url.Parse(remote)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return "", fmt.Errorf("origin %q is not an https remote", redactURL(remote))
	}
	parsed.User = url.UserPassword(tokenUser, token)
	if !strings.HasSuffix(parsed.Path, ".git") {
		parsed.Path += ".git"
	}
	return parsed.String(), nil
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	return parsed.Redacted()
}

// scrub removes secrets from a runner error so tokens never reach logs or
// persisted deployment records.
func scrub(err error, secrets []string) error {
	replace := func(s string) string {
		for _, secret := range secrets {
			if secret != "" {
				s = strings.ReplaceAll(s, secret, "***")
			}
		}
		return credentialsInURL.ReplaceAllString(s, "://***@")
	}
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		clean := *exitErr
		clean.Command = replace(clean.Command)
		clean.Tail = make([]string, len(exitErr.Tail))
		for i, line := range exitErr.Tail {
			clean.Tail[i] = replace(line)
		}
		if clean.Err != nil {
			clean.Err = errors.New(replace(clean.Err.Error()))
		}
		return &clean
	}
	return errors.New(replace(err.Error()))
}
