//go:build linux

// Package privileges implements the permanent privilege drop of the server
// process.
package privileges

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// IsRoot reports whether the process runs with uid 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// DropTo permanently switches the process to the given account: the
// supplementary group list is reduced to the account's primary group, then
// gid and uid are set in that order
// so the uid change cannot be undone. The runtime applies the calls to all
// threads.
func DropTo(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("privileges: lookup %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("privileges: uid of %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("privileges: gid of %q: %w", username, err)
	}

	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("privileges: setgroups: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("privileges: setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("privileges: setuid %d: %w", uid, err)
	}

	if unix.Getuid() != uid || unix.Geteuid() != uid {
		return fmt.Errorf("privileges: drop to %q did not stick", username)
	}
	return nil
}
