//go:build !linux

package rpc

import (
	"errors"
	"net"
)

// peerUID has no portable implementation off Linux; privileged methods
// fail closed.
func peerUID(conn net.Conn) (int, error) {
	return -1, errors.New("rpc: peer credentials unsupported on this platform")
}
