package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/splax/templatehub/internal/workspace"
)

// Pusher force-publishes a directory to an orphan branch.
type Pusher interface {
	PublishOrphanBranch(ctx context.Context, dir, branch, message, snapshotDir string) error
}

// SnapshotAllocator hands out scratch directories outside every workspace.
type SnapshotAllocator interface {
	SnapshotDir() (string, error)
}

// URLBuilder derives the public site URL of a repository.
type URLBuilder interface {
	PagesURL(owner, repo string) string
}

// Extra is a file or directory copied into the snapshot on top of the build
// output. Target is relative to the snapshot root.
type Extra struct {
	Source string
	Target string
}

// Snapshot is a detached copy of build output.
type Snapshot struct {
	Dir string
}

// Remove deletes the snapshot directory.
func (s Snapshot) Remove() error {
	if s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// Target identifies the branch a snapshot is published to.
type Target struct {
	Owner  string
	Repo   string
	Branch string
}

// Publisher snapshots build output and publishes it to the hosting branch.
type Publisher struct {
	pusher  Pusher
	dirs    SnapshotAllocator
	urls    URLBuilder
	message string
	logger  *slog.Logger
}

// New returns a Publisher committing with message.
func New(pusher Pusher, dirs SnapshotAllocator, urls URLBuilder, message string, logger *slog.Logger) *Publisher {
	if message == "" {
		message = "Deploy via Template Hub"
	}
	return &Publisher{pusher: pusher, dirs: dirs, urls: urls, message: message, logger: logger}
}

// Snapshot copies outputDir, without VCS metadata or dependencies, to a
// directory outside the repository and overlays extras.
func (p *Publisher) Snapshot(outputDir string, extras ...Extra) (Snapshot, error) {
	dir, err := p.dirs.SnapshotDir()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Dir: dir}
	if err := workspace.CopyTree(outputDir, dir, ".git", "node_modules"); err != nil {
		_ = snap.Remove()
		return Snapshot{}, fmt.Errorf("copy build output: %w", err)
	}
	for _, extra := range extras {
		if err := copyExtra(extra, dir); err != nil {
			_ = snap.Remove()
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// Publish pushes snap to target and returns the public URL. The snapshot is
// removed whether or not publishing succeeds.
func (p *Publisher) Publish(ctx context.Context, repoDir string, snap Snapshot, target Target) (string, error) {
	defer func() {
		if err := snap.Remove(); err != nil && p.logger != nil {
			p.logger.Warn("snapshot cleanup failed", "dir", snap.Dir, "error", err)
		}
	}()
	if err := p.pusher.PublishOrphanBranch(ctx, repoDir, target.Branch, p.message, snap.Dir); err != nil {
		return "", err
	}
	return p.urls.PagesURL(target.Owner, target.Repo), nil
}

func copyExtra(extra Extra, root string) error {
	info, err := os.Stat(extra.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", extra.Target, err)
	}
	dest := filepath.Join(root, filepath.FromSlash(extra.Target))
	if info.IsDir() {
		if err := workspace.CopyTree(extra.Source, dest); err != nil {
			return fmt.Errorf("copy %s: %w", extra.Target, err)
		}
		return nil
	}
	data, err := os.ReadFile(extra.Source)
	if err != nil {
		return fmt.Errorf("read %s: %w", extra.Target, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", extra.Target, err)
	}
	return nil
}
