package linkstats

// TCPInfo is the subset of Linux's tcp_info we surface as diagnostics.
// On platforms where a TCP_INFO snapshot isn't available, snapshot
// returns nil and these fields are simply absent from metrics/logs.
type TCPInfo struct {
	RTTMicros        uint32
	RTTVarMicros     uint32
	Retransmits      uint8
	TotalRetransmits uint32
}

// snapshot is implemented per-platform in tcpinfo_linux.go /
// tcpinfo_other.go.
