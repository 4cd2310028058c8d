//go:build linux

package linkstats

import (
	"sync"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

// DeliveryRateSupported reports whether the running kernel is new
// enough to populate delivery_rate/busy_time in TCP_INFO (4.9+). The
// result is only reported as a field of Conn's socket-closed log line;
// no delivery_rate or busy_time values are read or logged, and the
// check plays no part in struct layout.
var DeliveryRateSupported = sync.OnceValue(func() bool {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		logrus.WithError(err).Debug("could not determine kernel version; assuming minimal TCP_INFO support")
		return false
	}
	return kernel.CompareKernelVersion(*v, kernel.VersionInfo{Kernel: 4, Major: 9, Minor: 0}) >= 0
})
