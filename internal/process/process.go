package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	tailLines   = 40
	outputLimit = 4096
)

// Command describes one subprocess invocation.
type Command struct {
	Dir  string
	Name string
	Args []string
	Env  []string
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExitError reports a command that could not be started or exited non-zero.
// Tail holds the last lines of combined output.
type ExitError struct {
	Command  string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	if e.Err != nil && e.ExitCode == 0 {
		msg += ": " + e.Err.Error()
	}
	if len(e.Tail) > 0 {
		msg += ": " + Truncate(strings.Join(e.Tail, "\n"))
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands on the host.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns a host Runner. logger may be nil.
func NewExecRunner(logger *slog.Logger) ExecRunner {
	return ExecRunner{logger: logger}
}

// Run executes cmd and waits for it to exit.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return "", fmt.Errorf("command name cannot be empty")
	}
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.WaitDelay = 5 * time.Second
	setProcessGroup(c)
	output, err := c.CombinedOutput()
	if len(output) > 0 && r.logger != nil {
		r.logger.Debug("command output", "command", cmd.String(), "output", Truncate(string(output)))
	}
	if err != nil {
		return string(output), NewExitError(cmd.String(), string(output), err)
	}
	return string(output), nil
}

// NewExitError wraps err with the tail of output.
func NewExitError(command, output string, err error) *ExitError {
	exitErr := &ExitError{Command: command, Err: err, Tail: Tail(output, tailLines)}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		exitErr.ExitCode = ee.ExitCode()
	}
	return exitErr
}

// Tail returns the last limit non-empty lines of output with repeated
// lines collapsed.
func Tail(output string, limit int) []string {
	agg := NewAggregator(nil)
	for _, line := range strings.Split(output, "\n") {
		agg.Add(strings.TrimSpace(line))
	}
	agg.Flush()
	return agg.Snapshot(limit)
}

// Truncate bounds s for inclusion in logs and persisted messages.
func Truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputLimit {
		return s
	}
	return s[:outputLimit] + "..." + fmt.Sprintf(" (%d bytes truncated)", len(s)-outputLimit)
}
