//go:build linux

package linkstats

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// snapshot fetches a TCP_INFO snapshot for conn via the raw fd, exactly
// as sockstats.go's gatherAndReport does, but using x/sys/unix's typed
// GetsockoptTCPInfo instead of hand-unpacking the kernel struct: this
// client only ever talks to a local emulator, so the portability work
// the teacher's pkg/tcpinfo does for old kernels isn't a concern here.
func snapshot(conn net.Conn) *TCPInfo {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return nil
	}

	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return nil
	}

	var info *TCPInfo
	_ = rawConn.Control(func(_ uintptr) {
		raw, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
		if err != nil {
			return
		}
		info = &TCPInfo{
			RTTMicros:        raw.Rtt,
			RTTVarMicros:     raw.Rttvar,
			Retransmits:      raw.Retransmits,
			TotalRetransmits: raw.Total_retrans,
		}
	})
	return info
}
