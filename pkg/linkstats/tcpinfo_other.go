//go:build !linux

package linkstats

import "net"

// snapshot has no portable implementation outside Linux; callers treat
// a nil result as "diagnostics unavailable", never as an error.
func snapshot(conn net.Conn) *TCPInfo {
	return nil
}
