package linkstats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a prometheus.Collector exposing per-connection byte
// counters/RTT diagnostics for every Conn registered with it, plus two
// bridge-level metrics that give spec's otherwise-inert pacing counters
// an observable surface: a gauge for the accumulated (but never
// enforced) clock_slice budget, and a counter for the running per-opcode
// bit-cost tally.
type Collector struct {
	mu    sync.Mutex
	conns map[string]*Conn

	clockSlice   int64
	commandBits  map[byte]uint64

	descSent, descRecv, descRTT, descRetrans *prometheus.Desc
	descClockSlice, descCommandBits          *prometheus.Desc
}

// NewCollector builds a Collector. constLabels apply to every metric
// (e.g. {"app": "joyboot-client"}), mirroring
// exporter.NewTCPInfoCollector's constLabels parameter.
func NewCollector(constLabels prometheus.Labels) *Collector {
	return &Collector{
		conns:       make(map[string]*Conn),
		commandBits: make(map[byte]uint64),

		descSent: prometheus.NewDesc("joyboot_conn_sent_bytes", "Bytes sent on a bridge socket.",
			[]string{"conn", "id"}, constLabels),
		descRecv: prometheus.NewDesc("joyboot_conn_recv_bytes", "Bytes received on a bridge socket.",
			[]string{"conn", "id"}, constLabels),
		descRTT: prometheus.NewDesc("joyboot_conn_rtt_micros", "Most recent smoothed RTT in microseconds, where available.",
			[]string{"conn", "id"}, constLabels),
		descRetrans: prometheus.NewDesc("joyboot_conn_retransmits", "Most recent TCP retransmit count, where available.",
			[]string{"conn", "id"}, constLabels),
		descClockSlice: prometheus.NewDesc("joyboot_clock_slice_cycles", "Accumulated (but unenforced) clock-pacing budget, in emulated cycles.",
			nil, constLabels),
		descCommandBits: prometheus.NewDesc("joyboot_command_bits_total", "Per-opcode wire bit-cost tally, not currently subtracted from the clock budget.",
			[]string{"opcode"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descSent
	ch <- c.descRecv
	ch <- c.descRTT
	ch <- c.descRetrans
	ch <- c.descClockSlice
	ch <- c.descCommandBits
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, conn := range c.conns {
		ch <- prometheus.MustNewConstMetric(c.descSent, prometheus.CounterValue, float64(conn.SentBytes), conn.Label, conn.ID)
		ch <- prometheus.MustNewConstMetric(c.descRecv, prometheus.CounterValue, float64(conn.RecvBytes), conn.Label, conn.ID)

		info := conn.ClosedInfo
		if info == nil {
			info = conn.OpenedInfo
		}
		if info != nil {
			ch <- prometheus.MustNewConstMetric(c.descRTT, prometheus.GaugeValue, float64(info.RTTMicros), conn.Label, conn.ID)
			ch <- prometheus.MustNewConstMetric(c.descRetrans, prometheus.GaugeValue, float64(info.Retransmits), conn.Label, conn.ID)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.descClockSlice, prometheus.GaugeValue, float64(c.clockSlice))
	for opcode, bits := range c.commandBits {
		ch <- prometheus.MustNewConstMetric(c.descCommandBits, prometheus.CounterValue, float64(bits), opcodeLabel(opcode))
	}
}

// Add registers conn for diagnostics export.
func (c *Collector) Add(conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ID] = conn
}

// Remove unregisters conn, typically on Close.
func (c *Collector) Remove(conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn.ID)
}

// SetClockSlice records the bridge's current clock_slice value.
func (c *Collector) SetClockSlice(slice int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clockSlice = int64(slice)
}

// AddCommandBits accumulates the wire bit-cost of one serviced command.
func (c *Collector) AddCommandBits(opcode byte, bits uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandBits[opcode] += bits
}

func opcodeLabel(opcode byte) string {
	switch opcode {
	case 0xFF:
		return "RESET"
	case 0x00:
		return "POLL"
	case 0x14:
		return "TRANS"
	case 0x15:
		return "RECV"
	default:
		return "UNKNOWN"
	}
}
