package frame_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/avalonsail/actuatorcore/internal/epos/frame"
	"github.com/snksoft/crc"
)

var xmodemTable = crc.NewTable(crc.XMODEM)

// xmodemWords duplicates frame.go's unexported crcWords so this external
// test package can construct a well-formed device reply without reaching
// into frame's internals. It must reproduce the original frame_crc's word
// construction exactly (header word as written, every payload word
// byte-swapped), not just whatever convention frame.go happens to use --
// see TestFrameCRCKnownVector, which pins this against an independently
// computed checksum so a regression in either place cannot hide behind the
// other.
func xmodemWords(buf []byte) uint16 {
	c := xmodemTable.InitCrc()
	c = xmodemTable.UpdateCrc(c, []byte{buf[0], buf[1]})
	for i := 2; i+2 <= len(buf)-2; i += 2 {
		c = xmodemTable.UpdateCrc(c, []byte{buf[i+1], buf[i]})
	}
	c = xmodemTable.UpdateCrc(c, []byte{0, 0})
	return xmodemTable.CRC16(c)
}

// deviceSide plays the EPOS-side half of the protocol against one end of a
// net.Pipe: it acks the opcode, reads the length-prefixed payload, acks it,
// and replies with a canned read-object response carrying wantValue.
func deviceSide(t *testing.T, conn net.Conn, wantValue uint32) {
	t.Helper()
	var opcode [1]byte
	if _, err := io.ReadFull(conn, opcode[:]); err != nil {
		t.Errorf("device: read opcode: %v", err)
		return
	}
	if _, err := conn.Write([]byte{'O'}); err != nil {
		t.Errorf("device: ack opcode: %v", err)
		return
	}

	rest := make([]byte, 7) // len, index(2), subindex, nodeid, crc(2)
	if _, err := io.ReadFull(conn, rest); err != nil {
		t.Errorf("device: read payload: %v", err)
		return
	}
	if _, err := conn.Write([]byte{'O'}); err != nil {
		t.Errorf("device: ack payload: %v", err)
		return
	}

	reply := make([]byte, 12)
	reply[0] = 0 // opcode echo: success
	reply[1] = 3 // len-1
	// reply[2:6] device error code = 0
	binary.LittleEndian.PutUint32(reply[6:10], wantValue)

	crcStub := crcRoundTrip(reply)
	reply[10] = byte(crcStub)
	reply[11] = byte(crcStub >> 8)

	if _, err := conn.Write(reply[:1]); err != nil {
		t.Errorf("device: send reply opcode: %v", err)
		return
	}
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		t.Errorf("device: read ready ack: %v", err)
		return
	}
	if _, err := conn.Write(reply[1:]); err != nil {
		t.Errorf("device: send reply payload: %v", err)
		return
	}
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		t.Errorf("device: read final ack: %v", err)
		return
	}
}

// crcRoundTrip recomputes the same checksum Transport uses with the test's
// own xmodemWords helper, since package frame_test is external and cannot
// call frame's unexported crcWords.
func crcRoundTrip(buf []byte) uint16 {
	// The exported surface doesn't expose crcWords, so compute it the same
	// way frame.go does, inline, using the same library and convention.
	return xmodemWords(buf)
}

func TestReadObjectRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	tr := frame.NewTransport("/dev/null", 38400)
	tr.SetPort(a)

	done := make(chan struct{})
	go func() {
		deviceSide(t, b, 0xDEADBEEF)
		close(done)
	}()

	val, err := tr.ReadObject(1, 0x2070, 0)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if val != 0xDEADBEEF {
		t.Fatalf("ReadObject value = 0x%x, want 0xDEADBEEF", val)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("device goroutine did not finish")
	}
}

// TestFrameCRCKnownVector pins the checksum of a fixed reply frame (opcode 0,
// len-1 3, a zero error-code word, and a little-endian 0xDEADBEEF value word)
// against a value computed independently of this package's own convention,
// by hand-rolling the bit-wise CRC-CCITT (poly 0x1021, init 0, MSB-first, no
// reflection) over the exact word order original_source/lib/epos/com.c's
// frame_crc uses: the header word fed as written (opcode, len), every
// payload word fed byte-swapped, and the trailing CRC slot folded in as a
// zero word. This cannot pass tautologically the way a round-trip through
// xmodemWords alone could if both sides swapped bytes the same wrong way.
func TestFrameCRCKnownVector(t *testing.T) {
	reply := []byte{
		0x00, 0x03, // opcode echo, len-1
		0x00, 0x00, 0x00, 0x00, // device error code = 0
		0xEF, 0xBE, 0xAD, 0xDE, // value, little-endian 0xDEADBEEF
		0x00, 0x00, // CRC placeholder
	}
	const wantCRC = 0xa894
	if got := xmodemWords(reply); got != wantCRC {
		t.Fatalf("xmodemWords(reply) = 0x%04x, want 0x%04x", got, wantCRC)
	}
}

func bitwiseCRCCCITT(buf []byte) uint16 {
	var crc uint16
	update := func(b byte) {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	update(buf[0])
	update(buf[1])
	for i := 2; i+2 <= len(buf)-2; i += 2 {
		update(buf[i+1])
		update(buf[i])
	}
	update(0)
	update(0)
	return crc
}

// TestFrameCRCMatchesBitwiseReference cross-checks xmodemWords against a
// from-scratch bit-wise CRC-CCITT implementation (not the snksoft table) over
// several frames, including single-byte flips in the payload and in the CRC
// slot itself, so a single coincidentally-correct vector above cannot mask a
// subtler disagreement.
func TestFrameCRCMatchesBitwiseReference(t *testing.T) {
	base := []byte{
		0x00, 0x03,
		0x00, 0x00, 0x00, 0x00,
		0xEF, 0xBE, 0xAD, 0xDE,
		0x00, 0x00,
	}
	cases := [][]byte{base}
	for i := range base {
		flipped := append([]byte(nil), base...)
		flipped[i] ^= 0xFF
		cases = append(cases, flipped)
	}
	for i, buf := range cases {
		want := bitwiseCRCCCITT(buf)
		if got := xmodemWords(buf); got != want {
			t.Fatalf("case %d: xmodemWords = 0x%04x, bitwise reference = 0x%04x", i, got, want)
		}
	}
}

func TestDeviceErrorString(t *testing.T) {
	if got := frame.DeviceErrorString(0x06020000); got == "" {
		t.Fatal("expected a description for a known SDO abort code")
	}
	if got := frame.DeviceErrorString(0xFFFFFFFF); got == "" {
		t.Fatal("expected a fallback description for an unknown code")
	}
}
