// Package dolphin implements the two-socket Dolphin bridge transport:
// a data socket carrying JoyBus command/response bytes and a clock
// socket carrying out-of-band pacing deltas, interleaved into discrete
// protocol events delivered to a joybus.Engine.
package dolphin

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kawasedo/joyboot/pkg/joybus"
	"github.com/kawasedo/joyboot/pkg/linkstats"
)

// Ports, named for what they connect to: "dolphin gba" (data) and the
// clock signal, per the upstream emulator's convention.
const (
	PortData  = 0xD6BA
	PortClock = 0xC10C
)

// videoTotalLength is one full video frame's worth of emulated cycles;
// cyclesPerBit is derived from the JoyBus wire rate (115200 bps) on
// mGBA's clock. videoTotalLength sets the diagnostic-only pacing
// threshold in processCommand (the WaitCommand step); cyclesPerBit is
// not used by any code path.
const (
	videoTotalLength = 280896
	cyclesPerBit     = 0x1000000 / 115200
)

// connPhase is the per-connection transport state machine.
type connPhase int

const (
	phaseWaitFirstClock connPhase = iota
	phaseWaitClock
	phaseWaitCommand
)

// commandBitCost is the wire bit-cost (not counting stop bits) of each
// JoyBus command, used for the pacing diagnostic in §4.6; it is
// accumulated for observability but never subtracted from clockSlice.
var commandBitCost = map[byte]uint64{
	joybus.CmdReset: 32,
	joybus.CmdPoll:  32,
	joybus.CmdTrans: 48,
	joybus.CmdRecv:  48,
}

// Bridge owns the two TCP sockets and drives a joybus.Engine from the
// bytes it reads off them. All I/O and engine callbacks happen on
// whatever goroutine calls Run; Bridge itself introduces no
// concurrency.
type Bridge struct {
	dat *linkstats.Conn
	clk *linkstats.Conn

	engine *joybus.Engine

	phase      connPhase
	clockSlice int32

	log       *logrus.Entry
	collector *linkstats.Collector
}

// Options configures an optional Prometheus collector and logger for a
// Bridge; all fields are optional.
type Options struct {
	Logger    *logrus.Entry
	Collector *linkstats.Collector
}

// Connect dials the data and clock sockets against host, sets
// TCP_NODELAY on both, drains any bytes already pending (so a
// previously-running session can't leak garbage into this one), and
// returns a Bridge ready to have its Engine attached.
func Connect(ctx context.Context, host string, opts Options) (*Bridge, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dialer := &net.Dialer{}

	rawDat, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, PortData))
	if err != nil {
		return nil, fmt.Errorf("dolphin: dial data socket: %w", err)
	}
	setNoDelay(rawDat, log)

	rawClk, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, PortClock))
	if err != nil {
		_ = rawDat.Close()
		return nil, fmt.Errorf("dolphin: dial clock socket: %w", err)
	}
	setNoDelay(rawClk, log)

	dat := linkstats.Wrap(rawDat, "data", log)
	clk := linkstats.Wrap(rawClk, "clock", log)
	if opts.Collector != nil {
		opts.Collector.Add(dat)
		opts.Collector.Add(clk)
	}

	if err := recvFlush(dat); err != nil {
		return nil, fmt.Errorf("dolphin: drain data socket: %w", err)
	}
	if err := recvFlush(clk); err != nil {
		return nil, fmt.Errorf("dolphin: drain clock socket: %w", err)
	}

	return &Bridge{
		dat:       dat,
		clk:       clk,
		phase:     phaseWaitFirstClock,
		log:       log,
		collector: opts.Collector,
	}, nil
}

func setNoDelay(conn net.Conn, log *logrus.Entry) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		log.WithError(err).Warn("could not set TCP_NODELAY; this is gonna lag")
	}
}

// recvFlush drains any bytes already pending on conn. A read deadline
// bounds the drain so an idle (but otherwise empty) socket doesn't hang
// the connect sequence.
func recvFlush(conn net.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return nil
			}
			return err
		}
		if n < len(buf) {
			return nil
		}
	}
}

// Attach wires engine to the bridge; commands read off the data socket
// are dispatched to it from then on.
func (b *Bridge) Attach(engine *joybus.Engine) {
	b.engine = engine
}

// Close closes both sockets.
func (b *Bridge) Close() error {
	errDat := b.dat.Close()
	errClk := b.clk.Close()
	if b.collector != nil {
		b.collector.Remove(b.dat)
		b.collector.Remove(b.clk)
	}
	if errDat != nil {
		return errDat
	}
	return errClk
}

// Run drives the connection-phase loop until a transport error occurs
// (TransportFatal) or ctx is cancelled. An unknown opcode is a
// ProtocolViolation: it is logged and skipped without advancing past
// WaitCommand, so the master can resynchronise on its next clock tick.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch b.phase {
		case phaseWaitFirstClock:
			b.clockSlice = 0
			b.phase = phaseWaitClock

		case phaseWaitClock:
			if err := b.waitClock(); err != nil {
				return err
			}
			b.phase = phaseWaitCommand

		case phaseWaitCommand:
			advanced, err := b.processCommand()
			if err != nil {
				return err
			}
			if advanced {
				b.phase = phaseWaitClock
			}
		}
	}
}

func (b *Bridge) waitClock() error {
	if b.clockSlice < 0 {
		b.log.Debug("clock budget negative; master is ahead of schedule (diagnostic only)")
	}

	var buf [4]byte
	if _, err := readFull(b.clk, buf[:]); err != nil {
		return fmt.Errorf("dolphin: read clock tick: %w", err)
	}
	offset := int32(binary.BigEndian.Uint32(buf[:]))
	b.clockSlice += offset // wraps on overflow, matching the original's wrapping_add

	if b.collector != nil {
		b.collector.SetClockSlice(b.clockSlice)
	}
	return nil
}

// processCommand reads one opcode (and, for RECV, its 4-byte payload)
// from the data socket, dispatches it to the engine, and writes the
// response. It returns advanced=true unless the opcode was unknown.
func (b *Bridge) processCommand() (advanced bool, err error) {
	if b.clockSlice < -int32(videoTotalLength)*4 {
		b.log.Debug("clock budget deeply negative; falling behind schedule (diagnostic only)")
	}

	var opcodeBuf [1]byte
	if _, err := readFull(b.dat, opcodeBuf[:]); err != nil {
		return false, fmt.Errorf("dolphin: read opcode: %w", err)
	}
	opcode := opcodeBuf[0]

	var resp []byte
	switch opcode {
	case joybus.CmdReset:
		if b.engine != nil {
			r := b.engine.Reset()
			resp = r[:]
		} else {
			resp = []byte{0x00, 0x04, 0x00}
		}
	case joybus.CmdPoll:
		if b.engine != nil {
			r := b.engine.Poll()
			resp = r[:]
		} else {
			resp = []byte{0x00, 0x04, 0x00}
		}
	case joybus.CmdTrans:
		if b.engine != nil {
			r := b.engine.Trans()
			resp = r[:]
		} else {
			resp = []byte{0, 0, 0, 0, 0}
		}
	case joybus.CmdRecv:
		var payload [4]byte
		if _, err := readFull(b.dat, payload[:]); err != nil {
			return false, fmt.Errorf("dolphin: read RECV payload: %w", err)
		}
		if b.engine != nil {
			r := b.engine.Recv(payload)
			resp = r[:]
		} else {
			resp = []byte{0}
		}
	default:
		b.log.WithField("opcode", fmt.Sprintf("%#02x", opcode)).Warn("unexpected JoyBus opcode; skipping")
		return false, nil
	}

	if _, err := b.dat.Write(resp); err != nil {
		return false, fmt.Errorf("dolphin: write response: %w", err)
	}

	if b.collector != nil {
		b.collector.AddCommandBits(opcode, commandBitCost[opcode])
	}
	return true, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
