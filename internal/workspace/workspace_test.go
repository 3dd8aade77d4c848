package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireClearsStaleDirectory(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stale := filepath.Join(mgr.Root(), "octocat", "site")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "leftover"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	lease, err := mgr.Acquire("octocat", "site")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Dir != stale {
		t.Fatalf("unexpected lease dir %q", lease.Dir)
	}
	if _, err := os.Stat(lease.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected stale workspace to be removed, stat err=%v", err)
	}
}

func TestAcquireSanitizesTraversal(t *testing.T) {
	mgr, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lease, err := mgr.Acquire("../../etc", "site")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !strings.HasPrefix(lease.Dir, mgr.Root()+string(filepath.Separator)) {
		t.Fatalf("lease escaped root: %q", lease.Dir)
	}
	if _, err := mgr.Acquire("..", "site"); err == nil {
		t.Fatalf("expected empty identifier error")
	}
}

func TestAcquireKeepsTargetsApart(t *testing.T) {
	mgr, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := mgr.Acquire("a-b", "c")
	if err != nil {
		t.Fatalf("Acquire first: %v", err)
	}
	if err := os.MkdirAll(first.Dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	marker := filepath.Join(first.Dir, "package.json")
	if err := os.WriteFile(marker, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := map[string]string{first.Dir: "a-b/c"}
	for _, target := range [][2]string{{"a", "b-c"}, {"a b", "c"}, {"a", "b c"}, {"a_b", "c"}} {
		lease, err := mgr.Acquire(target[0], target[1])
		if err != nil {
			t.Fatalf("Acquire %v: %v", target, err)
		}
		if prev, ok := seen[lease.Dir]; ok {
			t.Fatalf("%s/%s shares workspace %q with %s", target[0], target[1], lease.Dir, prev)
		}
		seen[lease.Dir] = target[0] + "/" + target[1]
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("first workspace was disturbed: %v", err)
	}

	again, err := mgr.Acquire("A-B", "C")
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	if again.Dir != first.Dir {
		t.Fatalf("expected case-insensitive target to reuse %q, got %q", first.Dir, again.Dir)
	}
}

func TestReleaseRemovesOnce(t *testing.T) {
	mgr, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lease, err := mgr.Acquire("octocat", "site")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(lease.Dir, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lease.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed")
	}
	// A directory recreated after release must survive a second Release.
	if err := os.MkdirAll(lease.Dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(lease.Dir); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	mgr, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := mgr.Cleanup(t.TempDir()); err == nil {
		t.Fatalf("expected refusal for path outside root")
	}
	if err := mgr.Cleanup(mgr.Root()); err == nil {
		t.Fatalf("expected refusal for root itself")
	}
}

func TestSnapshotDirOutsideWorkspaces(t *testing.T) {
	mgr, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir, err := mgr.SnapshotDir()
	if err != nil {
		t.Fatalf("SnapshotDir: %v", err)
	}
	if !strings.Contains(dir, string(filepath.Separator)+snapshotsDir+string(filepath.Separator)) {
		t.Fatalf("unexpected snapshot dir %q", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("snapshot dir missing: %v", err)
	}
}

func TestCopyTreeSkipsNamedEntries(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	files := map[string]string{
		"index.html":           "<html></html>",
		"assets/app.js":        "console.log(1)",
		".git/HEAD":            "ref: refs/heads/main",
		"node_modules/x/a.js":  "x",
		"nested/.git/config":   "x",
		"nested/keep/file.txt": "keep",
	}
	for name, body := range files {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := CopyTree(src, dst, ".git", "node_modules"); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	for _, want := range []string{"index.html", "assets/app.js", "nested/keep/file.txt"} {
		if _, err := os.Stat(filepath.Join(dst, want)); err != nil {
			t.Fatalf("expected %s copied: %v", want, err)
		}
	}
	for _, unwanted := range []string{".git", "node_modules", "nested/.git"} {
		if _, err := os.Stat(filepath.Join(dst, unwanted)); !os.IsNotExist(err) {
			t.Fatalf("expected %s skipped", unwanted)
		}
	}
	empty, err := IsEmptyDir(dst)
	if err != nil || empty {
		t.Fatalf("expected non-empty dir, err=%v", err)
	}
	if empty, _ := IsEmptyDir(filepath.Join(dst, "missing")); !empty {
		t.Fatalf("missing dir should count as empty")
	}
}
