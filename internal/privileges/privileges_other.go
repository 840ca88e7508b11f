//go:build !linux

package privileges

import (
	"errors"
	"os"
)

func IsRoot() bool {
	return os.Geteuid() == 0
}

// DropTo is only implemented for Linux; the daemon refuses to start as
// root elsewhere.
func DropTo(username string) error {
	return errors.New("privileges: drop unsupported on this platform")
}
