//go:build linux

package fifodev

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reports the process and user ID of the peer on a unix
// domain socket connection via SO_PEERCRED. ok is false for non-unix
// connections or if the lookup fails.
func peerCredentials(conn net.Conn) (pid, uid int, ok bool) {
	uc, isUnix := conn.(*net.UnixConn)
	if !isUnix {
		return 0, 0, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return 0, 0, false
	}
	return int(cred.Pid), int(cred.Uid), true
}
