//go:build windows

package command

import "os/exec"

func setupProcessAttributes(cmd *exec.Cmd) {}
