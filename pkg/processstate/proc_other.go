//go:build !linux && !windows

package processstate

// No procfs: zombie state and owner are not observable without cgo or ps(1).

func isZombie(pid int) bool {
	return false
}

func processUID(pid int) (uint32, bool) {
	return 0, false
}
