//go:build !linux

package linkstats

// DeliveryRateSupported is always false outside Linux: there is no
// TCP_INFO snapshot to gate in the first place (see tcpinfo_other.go).
var DeliveryRateSupported = func() bool { return false }
