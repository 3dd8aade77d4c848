package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/templatehub/internal/retry"
)

const snapshotsDir = ".snapshots"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager owns deployment working directories under a common root.
type Manager struct {
	root  string
	grace time.Duration
}

// New ensures the workspace root exists and is accessible. grace is the
// delay Release waits before removing a workspace so lingering subprocesses
// can release their file handles.
func New(root string, grace time.Duration) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs, grace: grace}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Lease is a workspace handed to one deployment. Dir does not exist when the
// lease is returned so that clone can create it.
type Lease struct {
	Dir string

	manager *Manager
	once    sync.Once
	err     error
}

// Acquire computes the workspace for username/repoName and clears any stale
// directory left by an earlier run. Workspaces are laid out as
// <root>/<user>/<repo>; distinct targets never share a directory.
func (m *Manager) Acquire(username, repoName string) (*Lease, error) {
	user := segment(username)
	repo := segment(repoName)
	if user == "" || repo == "" {
		return nil, fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := filepath.Join(m.root, user, repo)
	if !m.within(dir) {
		return nil, fmt.Errorf("workspace path escapes root")
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("cleanup workspace: %w", err)
	}
	return &Lease{Dir: dir, manager: m}, nil
}

// Release removes the workspace after the grace delay. Only the first call
// does any work; later calls return the first result.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		// The workspace is removed even when ctx is already done.
		_ = retry.Sleep(ctx, l.manager.grace)
		l.err = l.manager.Cleanup(l.Dir)
	})
	return l.err
}

// SnapshotDir creates a fresh directory outside every workspace.
func (m *Manager) SnapshotDir() (string, error) {
	dir := filepath.Join(m.root, snapshotsDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes the workspace directory.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Only remove directories within the configured root.
	if !m.within(path) {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

func (m *Manager) within(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return false
	}
	return true
}

// segment maps one half of a target key to a directory name. Names are
// case-insensitive on the hosting side. A name that had to be rewritten gets
// a digest suffix after '+', which sanitize never emits, so two different
// names cannot map to the same directory.
func segment(value string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	cleaned := sanitize(key)
	if cleaned == "" || cleaned == key {
		return cleaned
	}
	sum := sha256.Sum256([]byte(key))
	return cleaned + "+" + hex.EncodeToString(sum[:4])
}

func sanitize(value string) string {
	cleaned := unsafeChars.ReplaceAllString(strings.TrimSpace(value), "-")
	return strings.Trim(cleaned, ".-")
}
