//go:build !linux

package fifodev

import "net"

// peerCredentials is unavailable outside Linux; SO_PEERCRED has no portable
// equivalent.
func peerCredentials(conn net.Conn) (pid, uid int, ok bool) {
	return 0, 0, false
}
