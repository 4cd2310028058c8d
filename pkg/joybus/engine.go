package joybus

// Command opcodes as they appear on the wire (master -> client).
const (
	CmdReset byte = 0xFF
	CmdPoll  byte = 0x00
	CmdTrans byte = 0x14
	CmdRecv  byte = 0x15
)

// Listener is the capability attached to an Engine. The production
// implementation is pkg/multiboot.Client; the set of listeners is
// closed, so a plain interface (rather than a generic type parameter)
// is the idiomatic Go shape here — dynamic dispatch over one concrete
// type costs nothing observable at four calls per command.
type Listener interface {
	// OnInit fires exactly once, during NewEngine.
	OnInit(s *Status)
	// OnReset fires after a RESET response has been computed.
	OnReset(s *Status)
	// OnSend fires after a TRANS response has been computed and
	// SendFull has already been cleared.
	OnSend(s *Status)
	// OnRecv fires after a RECV response has been computed, with a
	// fresh word already written into RECV.
	OnRecv(s *Status)
	// OnPoll fires after a POLL response has been computed.
	OnPoll(s *Status)
}

// BaseListener supplies no-op OnInit/OnPoll implementations so that a
// Listener only needs to implement OnReset/OnSend/OnRecv to satisfy the
// interface, matching spec's "Default: no-op" for those two callbacks.
type BaseListener struct{}

func (BaseListener) OnInit(*Status) {}
func (BaseListener) OnPoll(*Status) {}

// Engine wraps a Status register file and dispatches the four JoyBus
// commands to it, notifying the attached Listener after each response
// has been computed. A nil Listener is permitted: every command then
// returns a zero-filled response of the correct length.
type Engine struct {
	status   Status
	listener Listener
}

// NewEngine constructs an Engine around listener, invoking its OnInit
// callback exactly once. listener may be nil.
func NewEngine(listener Listener) *Engine {
	e := &Engine{listener: listener}
	if listener != nil {
		listener.OnInit(&e.status)
	}
	return e
}

// Status exposes the engine's register file for callers that need to
// inspect JSTAT/SEND/RECV outside of a command (e.g. the transport
// layer's diagnostics).
func (e *Engine) Status() *Status { return &e.status }

// Reset processes JOY_RESET: response is [0x00, 0x04, JSTAT].
func (e *Engine) Reset() [3]byte {
	ret := [3]byte{0x00, 0x04, e.status.JSTAT}
	if e.listener != nil {
		e.listener.OnReset(&e.status)
	}
	return ret
}

// Poll processes JOY_POLL: response is [0x00, 0x04, JSTAT].
func (e *Engine) Poll() [3]byte {
	ret := [3]byte{0x00, 0x04, e.status.JSTAT}
	if e.listener != nil {
		e.listener.OnPoll(&e.status)
	}
	return ret
}

// Trans processes JOY_TRANS: response is SEND (little-endian) followed
// by JSTAT. SendFull is cleared before the JSTAT byte is snapshotted,
// and the listener is notified only after the full response has been
// computed.
func (e *Engine) Trans() [5]byte {
	send := e.status.SEND
	ret := [5]byte{
		byte(send), byte(send >> 8), byte(send >> 16), byte(send >> 24),
		0,
	}
	e.status.JSTAT &^= SendFull
	ret[4] = e.status.JSTAT
	if e.listener != nil {
		e.listener.OnSend(&e.status)
	}
	return ret
}

// Recv processes JOY_RECV: data is the 4 little-endian payload bytes
// from the wire. RecvPending is set before the JSTAT response byte is
// snapshotted, so the returned byte already reflects the pending flag.
// With no listener attached, RECV is stored but JSTAT is left unchanged
// and the response byte is zero.
func (e *Engine) Recv(data [4]byte) [1]byte {
	e.status.RECV = uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	if e.listener == nil {
		return [1]byte{}
	}
	e.status.JSTAT |= RecvPending
	ret := [1]byte{e.status.JSTAT}
	e.listener.OnRecv(&e.status)
	return ret
}
