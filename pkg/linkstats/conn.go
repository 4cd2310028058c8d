// Package linkstats wraps the bridge's TCP sockets with best-effort
// diagnostics: byte/timestamp tracking for every connection, plus a
// Linux TCP_INFO snapshot (RTT, retransmits) on open and close. None of
// this feeds back into protocol behaviour — it is purely observable,
// surfaced through Collector's Prometheus metrics.
package linkstats

import (
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Conn wraps a net.Conn, tagging it with a short session id and
// tracking bytes sent/received, open/close timestamps, and first-read/
// first-write timestamps. It
// implements net.Conn so it is a drop-in replacement for the raw
// connection.
type Conn struct {
	net.Conn

	ID    string
	Label string

	OpenedAt, ClosedAt       int64
	FirstReadAt, FirstWriteAt int64
	RecvBytes, SentBytes     int64
	RecvErr, SentErr         error

	OpenedInfo, ClosedInfo *TCPInfo

	log *logrus.Entry
}

// Wrap tags conn with a fresh session id and label (e.g. "data",
// "clock"), gathers an opening TCP_INFO snapshot where supported, and
// returns the wrapped connection. log may be nil.
func Wrap(conn net.Conn, label string, log *logrus.Entry) *Conn {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	w := &Conn{
		Conn:     conn,
		ID:       xid.New().String(),
		Label:    label,
		OpenedAt: time.Now().UnixNano(),
		log:      log,
	}
	w.OpenedInfo = snapshot(conn)
	w.log.WithFields(logrus.Fields{"conn": w.Label, "id": w.ID}).Debug("socket opened")
	return w
}

// Close snapshots a closing TCP_INFO, logs summary stats, and closes
// the underlying connection.
func (w *Conn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	w.ClosedInfo = snapshot(w.Conn)
	w.log.WithFields(logrus.Fields{
		"conn": w.Label, "id": w.ID,
		"sentBytes": w.SentBytes, "recvBytes": w.RecvBytes,
		"deliveryRateSupported": DeliveryRateSupported(),
	}).Debug("socket closed")
	return w.Conn.Close()
}

// Read tracks bytes received and the first-read timestamp.
func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	if n > 0 && w.FirstReadAt == 0 {
		w.FirstReadAt = time.Now().UnixNano()
	}
	w.RecvBytes += int64(n)
	if err != nil {
		if nerr, ok := err.(net.Error); !ok || !nerr.Timeout() {
			w.RecvErr = err
		}
	}
	return n, err
}

// Write tracks bytes sent and the first-write timestamp.
func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if n > 0 && w.FirstWriteAt == 0 {
		w.FirstWriteAt = time.Now().UnixNano()
	}
	w.SentBytes += int64(n)
	if err != nil {
		if nerr, ok := err.(net.Error); !ok || !nerr.Timeout() {
			w.SentErr = err
		}
	}
	return n, err
}
