//go:build !windows

package processstate

import (
	"os/user"
	"strconv"
)

// ProcessOwner returns the user name owning pid. When the uid has no passwd
// entry the numeric uid is returned; "" means the owner is not observable.
func ProcessOwner(pid int) (string, error) {
	uid, ok := processUID(pid)
	if !ok {
		return "", nil
	}
	id := strconv.FormatUint(uint64(uid), 10)
	u, err := user.LookupId(id)
	if err != nil {
		return id, nil
	}
	return u.Username, nil
}

// CurrentUser returns the name of the user running this process.
func CurrentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
