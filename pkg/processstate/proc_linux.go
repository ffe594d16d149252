//go:build linux

package processstate

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func procDir(pid int) string {
	return "/proc/" + strconv.Itoa(pid)
}

// isZombie reads the state field of /proc/<pid>/stat.
// The comm field may contain spaces and parentheses, so parse after the last ')'.
func isZombie(pid int) bool {
	data, err := os.ReadFile(procDir(pid) + "/stat")
	if err != nil {
		return false
	}
	stat := string(data)
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 || idx+2 >= len(stat) {
		return false
	}
	return stat[idx+2] == 'Z'
}

func processUID(pid int) (uint32, bool) {
	var st unix.Stat_t
	if err := unix.Stat(procDir(pid), &st); err != nil {
		return 0, false
	}
	return st.Uid, true
}
