// Package joybus implements the slave side of the four-command JoyBus
// serial protocol: a status register, two transfer buffers, and the
// command engine that mediates RESET/POLL/TRANS/RECV against a pluggable
// Listener.
package joybus

// JSTAT bit flags. Bits not named here are reserved for listener use and
// carry no engine-level semantics.
const (
	// RecvPending is set by the engine on RECV and cleared by ReadRecv.
	RecvPending byte = 0x02
	// SendFull is set by WriteSend/TryWriteSend and cleared by the
	// engine on TRANS.
	SendFull byte = 0x08

	// engineMask covers the two bits the engine (and ReadRecv) own
	// exclusively; a "safe write" preserves them.
	engineMask byte = RecvPending | SendFull
	// safeWriteMask clears the bits a safe write is not allowed to set
	// directly, leaving room for engineMask to be ORed back in.
	safeWriteMask byte = 0xF5
)

// Status is the shared register file: the 8-bit JSTAT status byte and
// the 32-bit outbound (SEND) / inbound (RECV) transfer words. SEND and
// RECV are serialized little-endian on the wire by the command engine.
type Status struct {
	JSTAT byte
	SEND  uint32
	RECV  uint32
}

// ReadRecv returns the current RECV word and whether it is fresh (i.e.
// RecvPending was set), clearing RecvPending as a side effect. A second
// call without an intervening RECV command returns the same word with
// fresh=false.
func (s *Status) ReadRecv() (word uint32, fresh bool) {
	fresh = s.JSTAT&RecvPending != 0
	s.JSTAT &^= RecvPending
	return s.RECV, fresh
}

// WriteSend overwrites SEND and sets SendFull, reporting whether the
// previous value had already been consumed (SendFull was clear). A
// false return indicates a BufferOverrunOnSend: the previous SEND word
// was dropped without being transmitted.
func (s *Status) WriteSend(word uint32) (wroteCleanly bool) {
	wroteCleanly = s.JSTAT&SendFull == 0
	s.JSTAT |= SendFull
	s.SEND = word
	return wroteCleanly
}

// TryWriteSend writes word only if SendFull is currently clear, leaving
// an unconsumed SEND word untouched. It returns whether the write took
// place.
func (s *Status) TryWriteSend(word uint32) bool {
	if s.JSTAT&SendFull != 0 {
		return false
	}
	s.WriteSend(word)
	return true
}

// WriteJstatSafe overwrites JSTAT from x, masking off bits the listener
// must not set directly (RecvPending, SendFull) and preserving their
// current value instead. Raw toggles of reserved/user bits (e.g.
// s.JSTAT ^= 0x10) are fine outside of this helper; only RecvPending and
// SendFull are off-limits for direct listener writes.
func (s *Status) WriteJstatSafe(x byte) {
	s.JSTAT = (x & safeWriteMask) | (s.JSTAT & engineMask)
}
