//go:build !windows

package processstate

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// IsProcessRunning reports whether a process with the given pid exists.
// A process we may not signal (EPERM) still exists. Zombies are not running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 || pid > MaxPID {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	err := unix.Kill(pid, 0)
	switch err {
	case nil, unix.EPERM:
	case unix.ESRCH:
		return false, nil
	default:
		return false, err
	}

	if isZombie(pid) {
		return false, nil
	}
	return true, nil
}
