// Package multiboot implements the GBA multiboot handshake as a
// joybus.Listener: key exchange, payload-length derivation, receive
// buffering, and post-transfer decryption.
package multiboot

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kawasedo/joyboot/pkg/joybus"
)

// clientState enumerates the six states of the handshake.
type clientState int

const (
	stateAnnounce clientState = iota
	stateKeyExch
	stateRecvHeader
	stateRecvObfuscated
	statePostRecv
	stateCompleted
)

// Protocol constants. keyMagic is the fixed 8-byte literal the session
// key is XORed against; per Tcrf this was the original developers'
// self-credit baked into the obfuscation bytes.
const (
	keyMagic       = "Kawasedo"
	keyClientTrf   = 0x6f646573 // 'sedo'
	keyData        = 0x6177614B // 'awaK', the LCG multiplier
	headerLen      = 0xC0
	maxDatalen     = 0x4480
	transferTypeJB = 0x20796220 // JoyBus transfer-type constant
)

// Client is the multiboot handshake state machine. It implements
// joybus.Listener and is driven exclusively by Engine callbacks, which
// are always sequential, so Client needs no internal locking.
type Client struct {
	joybus.BaseListener

	state     clientState
	ewram     []uint32
	clientkey uint32
	datalen   uint32
	readpos   uint32

	// OnComplete, if set, is invoked exactly once when the handshake
	// reaches Completed, with the fully decrypted image.
	OnComplete func(ewram []uint32)

	log *logrus.Entry
}

// NewClient constructs a Client with a freshly seeded client key. logger
// may be nil, in which case logrus.StandardLogger() is used.
func NewClient(logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		state:     stateAnnounce,
		clientkey: generateClientKey(),
		log:       logger,
	}
}

// Ewram returns the current (possibly still-growing, possibly still
// obfuscated) memory image.
func (c *Client) Ewram() []uint32 { return c.ewram }

// Done reports whether the handshake has reached its terminal state.
func (c *Client) Done() bool { return c.state == stateCompleted }

func generateClientKey() uint32 {
	var x uint32
	iterations := uint64(time.Now().UnixMilli())%1000 + 5
	for i := uint64(0); i < iterations; i++ {
		x = lcgStep(x)
	}
	return x
}

// lcgStep is a single iteration of the BIOS pseudo-random function used
// both to generate the client key and to derive the decryption key
// stream.
func lcgStep(x uint32) uint32 {
	return x*keyData + 1
}

// OnInit announces presence: writes SEND=0 and advances to KeyExch.
func (c *Client) OnInit(s *joybus.Status) {
	s.WriteSend(0)
	c.state = stateKeyExch
}

// OnReset transmits the client key and re-enters KeyExch.
func (c *Client) OnReset(s *joybus.Status) {
	if c.state == stateCompleted {
		return
	}
	s.WriteSend(c.clientkey ^ keyClientTrf)
	s.WriteJstatSafe(0x10)
	c.state = stateKeyExch
}

// OnSend acknowledges the client-key transmission in KeyExch, and
// signals completion after the post-receive send in PostRecv.
func (c *Client) OnSend(s *joybus.Status) {
	switch c.state {
	case stateKeyExch:
		s.WriteJstatSafe(0x10)
	case statePostRecv:
		c.state = stateCompleted
		c.log.Info("multiboot transfer complete")
		if c.OnComplete != nil {
			c.OnComplete(c.ewram)
		}
	}
}

// OnRecv drives the bulk of the handshake: key exchange in KeyExch,
// then word-at-a-time buffering through RecvHeader/RecvObfuscated.
func (c *Client) OnRecv(s *joybus.Status) {
	switch c.state {
	case stateKeyExch:
		c.onRecvKeyExch(s)
	case stateRecvHeader, stateRecvObfuscated:
		c.onRecvBody(s)
	}
}

func (c *Client) onRecvKeyExch(s *joybus.Status) {
	seed, _ := s.ReadRecv()

	magicIndex := (seed >> 7) & 0x2
	decrypt := uint32(keyMagic[magicIndex]) | uint32(keyMagic[magicIndex+1])<<8 |
		uint32(keyMagic[magicIndex+2])<<16 | uint32(keyMagic[magicIndex+3])<<24
	sessionKey := seed ^ decrypt

	a := (sessionKey >> 8) & 0x7F
	if sessionKey&0x10000 != 0 {
		a += 0x80
	}
	b := ((a << 7) | (sessionKey & 0x7F)) + 0x3F
	b <<= 3
	datalen := b & 0x0003FFF8
	if datalen != b {
		c.log.Warnf("boot-inhibit bit tripped (session key %#08x); clamping datalen to %#x", sessionKey, maxDatalen)
		datalen = maxDatalen
	}
	datalen += 0xC

	c.log.WithFields(logrus.Fields{
		"seed":       seed,
		"decrypt":    decrypt,
		"sessionKey": sessionKey,
		"datalen":    datalen,
	}).Debug("key exchange complete")

	c.datalen = datalen
	c.ewram = make([]uint32, datalen/4+4)
	c.readpos = 0
	c.state = stateRecvHeader
	s.WriteJstatSafe(0x20)
}

// onRecvBody buffers one word into ewram and flips the step-indicator
// bit; RecvHeader and RecvObfuscated differ only in what happens once
// readpos reaches the relevant boundary.
func (c *Client) onRecvBody(s *joybus.Status) {
	word, _ := s.ReadRecv()
	c.ewram[c.readpos/4] = word
	c.readpos += 4
	s.JSTAT ^= 0x10

	if c.state == stateRecvHeader {
		if c.readpos >= headerLen {
			c.state = stateRecvObfuscated
			c.log.Debug("header received; beginning obfuscated body")
		}
		return
	}

	// stateRecvObfuscated
	if c.readpos >= c.datalen {
		decrypt(c.clientkey, c.datalen, c.ewram)
		c.log.Debug("obfuscated body received and decrypted")
		c.state = statePostRecv
		s.WriteJstatSafe(0)
		s.WriteSend(0)
	}
}

// decrypt applies the rolling-LCG key stream to the words at byte offsets
// headerLen through datalen inclusive, mutating ewram in place. It is
// deterministic for a given (clientkey, datalen, ewram). The key stream
// restarts from clientkey on every call, so a second call with the same
// clientkey and datalen XORs the same stream again and restores the
// buffer.
func decrypt(clientkey, datalen uint32, ewram []uint32) {
	key := clientkey
	for index := uint32(headerLen); index <= datalen; index += 4 {
		key = lcgStep(key)
		ptrkey := -(0x02000000 + index)
		ewram[index/4] ^= key ^ ptrkey ^ transferTypeJB
	}
}

// CRCStep is the polynomial-based CRC primitive reserved for future
// integrity checking. It is not called from the decrypt path in this
// revision; it exists so the hook can be wired in without rework.
func CRCStep(crc, src, magic uint32) uint32 {
	for i := 0; i < 32; i++ {
		t := crc ^ src
		crc >>= 1
		if t&1 != 0 {
			crc ^= magic
		}
		src >>= 1
	}
	return crc
}
