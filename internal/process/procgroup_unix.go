//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// killGrace is how long a cancelled process group gets between SIGTERM and
// SIGKILL.
const killGrace = 3 * time.Second

// setProcessGroup starts c in its own process group and makes context
// cancellation signal the whole group, so children spawned by package
// managers stop with their parent.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		pgid := c.Process.Pid
		if err := signalGroup(pgid, syscall.SIGTERM); err != nil {
			return err
		}
		time.AfterFunc(killGrace, func() {
			_ = signalGroup(pgid, syscall.SIGKILL)
		})
		return nil
	}
}

func signalGroup(pgid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
