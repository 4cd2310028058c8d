package multiboot

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kawasedo/joyboot/pkg/joybus"
)

func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// TestKeyExchangeLengthDerivation reproduces spec scenario 3: given
// seed 0xDFC1F5D7, magic_index must select "wase" (bytes 2..6 of
// "Kawasedo"), and the resulting session key must feed the length
// formula deterministically.
func TestKeyExchangeLengthDerivation(t *testing.T) {
	const seed = uint32(0xDFC1F5D7)

	magicIndex := (seed >> 7) & 0x2
	if magicIndex != 2 {
		t.Fatalf("magicIndex = %d, want 2", magicIndex)
	}

	decrypt := uint32(keyMagic[magicIndex]) | uint32(keyMagic[magicIndex+1])<<8 |
		uint32(keyMagic[magicIndex+2])<<16 | uint32(keyMagic[magicIndex+3])<<24
	if decrypt != 0x65736177 {
		t.Fatalf("decrypt = %#08x, want 0x65736177", decrypt)
	}

	sessionKey := seed ^ decrypt

	c := &Client{}
	s := &joybus.Status{}
	s.WriteSend(0)
	s.RECV = seed
	s.JSTAT |= joybus.RecvPending
	c.log = nopLogger()
	c.state = stateKeyExch
	c.onRecvKeyExch(s)

	a := (sessionKey >> 8) & 0x7F
	if sessionKey&0x10000 != 0 {
		a += 0x80
	}
	b := ((a << 7) | (sessionKey & 0x7F)) + 0x3F
	b <<= 3
	wantDatalen := b & 0x0003FFF8
	if wantDatalen != b {
		wantDatalen = maxDatalen
	}
	wantDatalen += 0xC

	if c.datalen != wantDatalen {
		t.Fatalf("datalen = %#x, want %#x", c.datalen, wantDatalen)
	}
	if c.state != stateRecvHeader {
		t.Fatalf("state = %v, want stateRecvHeader", c.state)
	}
	if len(c.ewram) != int(c.datalen)/4+4 {
		t.Fatalf("len(ewram) = %d, want %d", len(c.ewram), c.datalen/4+4)
	}
}

// TestBootInhibitClamp reproduces spec scenario 4: any session key
// whose derived b exceeds 0x0003FFF8 clamps datalen to 0x448C.
func TestBootInhibitClamp(t *testing.T) {
	// Choose a session key such that b's low bits (cleared by the
	// 0x0003FFF8 mask) are nonzero, e.g. one that sets bit 0 of b.
	// b = ((a<<7)|(sessionKey&0x7f))+0x3f, then <<3. We just need
	// datalen != b after masking; pick sessionKey=0 as a baseline and
	// perturb until the round-trip fails, or construct directly: with
	// sessionKey&0x7f = 0, a = 0, b = (0x3f)<<3 = 0x1f8, which is
	// already 8-aligned and masked value equals b (no clamp). Instead
	// force a value that leaves bits outside 0x0003FFF8 (i.e. b >=
	// 0x00040000, which requires a large a).
	const sessionKey = uint32(0xFFFFFFFF) // worst case: max a, max low bits

	a := (sessionKey >> 8) & 0x7F
	if sessionKey&0x10000 != 0 {
		a += 0x80
	}
	b := ((a << 7) | (sessionKey & 0x7F)) + 0x3F
	b <<= 3
	datalen := b & 0x0003FFF8
	if datalen == b {
		t.Fatalf("test vector does not trip the boot-inhibit clamp; b=%#x", b)
	}

	c := &Client{log: nopLogger(), state: stateKeyExch}
	s := &joybus.Status{RECV: sessionKey ^ magicDecryptFor(sessionKey), JSTAT: joybus.RecvPending}
	c.onRecvKeyExch(s)

	if c.datalen != maxDatalen+0xC {
		t.Fatalf("datalen = %#x, want %#x", c.datalen, maxDatalen+0xC)
	}
}

// magicDecryptFor returns the magic-window word ("Kawa", magicIndex 0)
// that the clamp test XORs with sessionKey to build a seed, so it can
// exercise onRecvKeyExch (which XORs RECV against the magic window)
// with a chosen sessionKey. The sessionKey argument is not used; the
// result is only correct when the built seed has bit 8 clear.
func magicDecryptFor(sessionKey uint32) uint32 {
	// seed ^ decrypt(seed) = sessionKey. Since magicIndex depends only
	// on bit 8 of seed and decrypt depends only on magicIndex, assume
	// magicIndex=0 (seed bit 8 = 0) and use magic[0:4] = "Kawa".
	return uint32(keyMagic[0]) | uint32(keyMagic[1])<<8 | uint32(keyMagic[2])<<16 | uint32(keyMagic[3])<<24
}

// TestDecryptionFixedPoint reproduces spec scenario 5.
func TestDecryptionFixedPoint(t *testing.T) {
	const clientkey = uint32(0xD4CC95B4)
	const datalen = uint32(0xC4)

	ewram := make([]uint32, datalen/4+4)
	decrypt(clientkey, datalen, ewram)

	k1 := lcgStep(clientkey)
	ptrkey := -(uint32(0x02000000) + 0xC0)
	want := uint32(0) ^ k1 ^ ptrkey ^ transferTypeJB

	if got := ewram[0x30]; got != want {
		t.Fatalf("ewram[0x30] = %#08x, want %#08x", got, want)
	}
}

// TestDecryptionSameKeyTwiceRestores documents that decrypt reseeds its
// key stream from clientkey on every call, so a second pass with the
// same clientkey undoes the first.
func TestDecryptionSameKeyTwiceRestores(t *testing.T) {
	const clientkey = uint32(0x12345678)
	const datalen = uint32(0xC4)

	ewram := make([]uint32, datalen/4+4)
	ewram[0x30] = 0xCAFEBABE
	original := ewram[0x30]

	decrypt(clientkey, datalen, ewram)
	decrypt(clientkey, datalen, ewram)

	if ewram[0x30] != original {
		t.Fatalf("ewram[0x30] after two decrypt() passes = %#08x, want original %#08x", ewram[0x30], original)
	}
}

// TestEndOfBodySignalsCompletion reproduces spec scenario 6.
func TestEndOfBodySignalsCompletion(t *testing.T) {
	c := NewClient(nil)
	var completed []uint32
	c.OnComplete = func(ewram []uint32) { completed = ewram }

	e := joybus.NewEngine(c)

	// Key exchange.
	e.Reset()
	seed := uint32(0x12345)
	e.Recv([4]byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24)})

	if c.state != stateRecvHeader {
		t.Fatalf("state after key exchange = %v, want stateRecvHeader", c.state)
	}

	// Drive header + obfuscated body to completion.
	for c.readpos < c.datalen {
		e.Recv([4]byte{0, 0, 0, 0})
	}

	if c.state != statePostRecv {
		t.Fatalf("state after body = %v, want statePostRecv", c.state)
	}

	e.Trans() // on_send fires with state == PostRecv

	if c.state != stateCompleted {
		t.Fatalf("state after trailing send = %v, want stateCompleted", c.state)
	}
	if completed == nil {
		t.Fatalf("OnComplete was not invoked")
	}
}
