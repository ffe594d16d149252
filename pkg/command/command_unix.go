//go:build !windows

package command

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the command in its own process group so a
// terminal ^C aimed at the controller does not reach a daemon it just started.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
