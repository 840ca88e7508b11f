//go:build linux

package rpc

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// peerUID queries the uid of the process on the other end of a Unix
// socket via SO_PEERCRED. Anything that is not a Unix socket, or a failed
// query, yields an error and the caller treats the peer as unprivileged.
func peerUID(conn net.Conn) (int, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return -1, errors.New("rpc: not a unix connection")
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return -1, err
	}
	if credErr != nil {
		return -1, credErr
	}
	return int(cred.Uid), nil
}
