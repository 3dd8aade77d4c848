package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestAggregatorCollapsesRepeats(t *testing.T) {
	var emitted []string
	agg := NewAggregator(func(line string) { emitted = append(emitted, line) })
	for _, line := range []string{"a", "b", "b", "b", "c"} {
		agg.Add(line)
	}
	agg.Flush()
	want := []string{"a", "b", "b (repeated 2 more times)", "c"}
	if strings.Join(emitted, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected emitted lines %v", emitted)
	}
	if got := agg.Snapshot(2); strings.Join(got, "|") != "b (repeated 2 more times)|c" {
		t.Fatalf("unexpected snapshot %v", got)
	}
}

func TestTailKeepsLastLines(t *testing.T) {
	output := "one\n\ntwo\nthree\nfour\n"
	if got := Tail(output, 2); strings.Join(got, ",") != "three,four" {
		t.Fatalf("unexpected tail %v", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", outputLimit+10)
	got := Truncate(long)
	if !strings.HasSuffix(got, "(10 bytes truncated)") {
		t.Fatalf("unexpected truncation suffix: %q", got[len(got)-30:])
	}
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	runner := NewExecRunner(nil)
	out, err := runner.Run(context.Background(), Command{Dir: t.TempDir(), Name: "sh", Args: []string{"-c", "echo building; echo broken >&2; exit 3"}})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.ExitCode != 3 {
		t.Fatalf("unexpected exit code %d", exitErr.ExitCode)
	}
	if !strings.Contains(out, "building") || !strings.Contains(strings.Join(exitErr.Tail, "\n"), "broken") {
		t.Fatalf("expected output captured, got %q / %v", out, exitErr.Tail)
	}
}

func TestExecRunnerPassesEnv(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, err := NewExecRunner(nil).Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "printf %s \"$HUB_TEST\""}, Env: []string{"HUB_TEST=ok"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output %q", out)
	}
}
