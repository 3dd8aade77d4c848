package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/templatehub/internal/framework"
	"github.com/splax/templatehub/internal/process"
)

type fakeExec struct {
	commands []process.Command
	fail     map[string]error
}

func (f *fakeExec) Run(ctx context.Context, cmd process.Command) (string, error) {
	f.commands = append(f.commands, cmd)
	if err, ok := f.fail[cmd.String()]; ok {
		return "", err
	}
	return "ok", nil
}

func TestInstallSkippedWithoutManifest(t *testing.T) {
	exec := &fakeExec{}
	runner := New(exec, time.Minute, nil)
	require.NoError(t, runner.Install(context.Background(), t.TempDir(), framework.Profile{Framework: framework.FrameworkStaticHTML}))
	require.NoError(t, runner.Build(context.Background(), t.TempDir(), framework.Profile{Framework: framework.FrameworkStaticHTML}))
	require.Empty(t, exec.commands)
}

func TestInstallAndBuildUsePackageManager(t *testing.T) {
	exec := &fakeExec{}
	runner := New(exec, time.Minute, nil)
	profile := framework.Profile{
		Framework:      framework.FrameworkVite,
		PackageManager: framework.PackageManagerYarn,
		HasManifest:    true,
		BuildCommand:   []string{"yarn", "run", "build"},
		OutputDir:      "dist",
	}
	dir := t.TempDir()
	require.NoError(t, runner.Install(context.Background(), dir, profile))
	require.NoError(t, runner.Build(context.Background(), dir, profile))
	require.Len(t, exec.commands, 2)
	require.Equal(t, "yarn install", exec.commands[0].String())
	require.Equal(t, "yarn run build", exec.commands[1].String())
	require.Equal(t, dir, exec.commands[1].Dir)
}

func TestBuildFailureCarriesOutput(t *testing.T) {
	exitErr := process.NewExitError("npm run build", "vite v5\nerror: Could not resolve ./App", errors.New("exit status 1"))
	exec := &fakeExec{fail: map[string]error{"npm run build": exitErr}}
	runner := New(exec, time.Minute, nil)
	err := runner.Build(context.Background(), t.TempDir(), framework.Profile{BuildCommand: []string{"npm", "run", "build"}})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "Could not resolve"))
	var target *process.ExitError
	require.ErrorAs(t, err, &target)
}

func TestOutputMissingIsFatalEvenAfterCleanBuild(t *testing.T) {
	exec := &fakeExec{}
	runner := New(exec, time.Minute, nil)
	dir := t.TempDir()
	profile := framework.Profile{Framework: framework.FrameworkVite, BuildCommand: []string{"npm", "run", "build"}, OutputDir: "dist"}
	require.NoError(t, runner.Build(context.Background(), dir, profile))
	_, err := runner.Output(dir, profile)
	require.ErrorIs(t, err, ErrOutputNotFound)
}

func TestOutputResolvesAngularBrowserDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist", "folio", "browser"), 0o755))
	runner := New(&fakeExec{}, time.Minute, nil)

	out, err := runner.Output(dir, framework.Profile{Framework: framework.FrameworkAngular, OutputDir: "dist/folio"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dist", "folio", "browser"), out)

	out, err = runner.Output(dir, framework.Profile{Framework: framework.FrameworkStaticHTML, OutputDir: "."})
	require.NoError(t, err)
	require.Equal(t, dir, out)
}

func TestBuildTimeout(t *testing.T) {
	runner := New(blockingExec{}, 10*time.Millisecond, nil)
	err := runner.Build(context.Background(), t.TempDir(), framework.Profile{BuildCommand: []string{"npm", "run", "build"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingExec struct{}

func (blockingExec) Run(ctx context.Context, cmd process.Command) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
