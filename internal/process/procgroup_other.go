//go:build !unix

package process

import "os/exec"

// setProcessGroup keeps the default CommandContext behaviour, which kills
// only the direct child.
func setProcessGroup(c *exec.Cmd) {}
