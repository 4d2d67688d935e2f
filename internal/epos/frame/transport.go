package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// readTimeout is the per-byte-group read deadline used throughout a
// transaction, matching read_timeout's 500ms select() wait in com.c.
const readTimeout = 500 * time.Millisecond

// Port is the subset of the serial connection a Transport needs; satisfied
// by *serial.Port and by any io.ReadWriteCloser (net.Conn included), and by a
// fake in tests.
type Port interface {
	io.ReadWriteCloser
}

// deadliner is implemented by connections that support read deadlines
// (net.Conn, and *serial.Port via SetReadDeadline in recent tarm/serial
// releases). Transports that open a Port lacking this method fall back to a
// blocking read with no timeout, same as the original's behavior when select
// is skipped.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Transport multiplexes read_object/write_object/NMT-service/CAN-frame
// transactions over a single half-duplex serial line, one at a time. It is
// the Go analogue of lib/epos/com.c's epos_open/xmit/recv pair, wrapped in
// comm.RemoteDevice's reconnect-with-backoff idiom.
type Transport struct {
	mu sync.Mutex

	devPath string
	baud    int

	port Port
}

// NewTransport returns a Transport bound to the given serial device path, not
// yet opened.
func NewTransport(devPath string, baud int) *Transport {
	if baud == 0 {
		baud = 38400
	}
	return &Transport{devPath: devPath, baud: baud}
}

// Open establishes the serial connection, retrying with exponential backoff
// the way comm.RemoteDevice.Open retries a refused/timed-out dial, since the
// USB-serial adapters on the actuator bus can take a moment to enumerate
// after a power cycle.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	op := func() error {
		p, err := serial.OpenPort(&serial.Config{
			Name:        t.devPath,
			Baud:        t.baud,
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return err
		}
		t.port = p
		return nil
	}
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
}

// Close closes the underlying port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// SetPort installs an already-open Port directly, bypassing Open/backoff;
// used by tests to inject a fake in-memory duplex.
func (t *Transport) SetPort(p Port) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.port = p
}

func (t *Transport) readFull(buf []byte) error {
	if dl, ok := t.port.(deadliner); ok {
		dl.SetReadDeadline(time.Now().Add(readTimeout))
	}
	_, err := io.ReadFull(t.port, buf)
	if err != nil {
		return transportErr(ErrKindRecv, fmt.Sprintf("read: %v", err))
	}
	return nil
}

// xmit computes the CRC of a fully-assembled frame, stamps it into the
// frame's last two bytes, and sends it using the two-phase opcode/ready-ack, then
// payload/send-ack handshake from com.c's xmit().
func (t *Transport) xmit(data []byte) error {
	if len(data) < 6 {
		return transportErr(ErrKindXmit, "frame shorter than minimum 6 bytes")
	}
	crc := crcWords(data)
	binary.LittleEndian.PutUint16(data[len(data)-2:], crc)

	if _, err := t.port.Write(data[:1]); err != nil {
		return transportErr(ErrKindXmit, fmt.Sprintf("send opcode: %v", err))
	}

	var ack [1]byte
	if err := t.readFull(ack[:]); err != nil {
		return err
	}
	if ack[0] != ackReady {
		return transportErr(ErrKindNack, "peer did not ack opcode")
	}

	if _, err := t.port.Write(data[1:]); err != nil {
		return transportErr(ErrKindXmit, fmt.Sprintf("send payload: %v", err))
	}

	if err := t.readFull(ack[:]); err != nil {
		return err
	}
	if ack[0] != ackReady {
		return transportErr(ErrKindNack, "peer did not ack payload")
	}
	return nil
}

// recv reads one inbound frame: an opcode byte (acked immediately), a length
// byte, then 2*(len+1) payload bytes plus the two CRC bytes, verifying the
// checksum and sending the final ack, mirroring com.c's recv().
func (t *Transport) recv() ([]byte, error) {
	hdr := make([]byte, 2)
	if err := t.readFull(hdr[:1]); err != nil {
		return nil, err
	}
	if _, err := t.port.Write([]byte{ackReady}); err != nil {
		return nil, transportErr(ErrKindXmit, fmt.Sprintf("send ready ack: %v", err))
	}
	if err := t.readFull(hdr[1:2]); err != nil {
		return nil, err
	}

	n := 2*(int(hdr[1])+1) + 2
	buf := make([]byte, 2+n)
	copy(buf, hdr)
	if err := t.readFull(buf[2:]); err != nil {
		return nil, err
	}

	want := crcWords(buf)
	got := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	if want != got {
		t.port.Write([]byte{ackBad})
		return nil, transportErr(ErrKindBadCRC, "reply CRC mismatch")
	}
	t.port.Write([]byte{ackReady})
	return buf, nil
}

// transact performs one complete xmit/recv exchange under the transport's
// lock, since the wire is half-duplex and only one transaction may be
// outstanding at a time.
func (t *Transport) transact(xmitFrame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, transportErr(ErrKindXmit, "transport not open")
	}
	if err := t.xmit(xmitFrame); err != nil {
		return nil, err
	}
	return t.recv()
}

// ReadObject performs a read-object transaction for (index, subindex) on the
// given node, returning the 32-bit value or the device's reported error.
func (t *Transport) ReadObject(nodeID byte, index uint16, subindex byte) (uint32, error) {
	xf := []byte{
		byte(OpReadObject),
		1,
		byte(index), byte(index >> 8),
		subindex,
		nodeID,
		0, 0,
	}
	reply, err := t.transact(xf)
	if err != nil {
		return 0, err
	}
	if reply[0] != 0 || len(reply) != 12 || reply[1] != 3 {
		return 0, transportErr(ErrKindBadResponse, "malformed read-object reply")
	}
	code := binary.LittleEndian.Uint32(reply[2:6])
	if code != 0 {
		return 0, deviceErr(code)
	}
	return binary.LittleEndian.Uint32(reply[6:10]), nil
}

// WriteObject performs a write-object transaction for (index, subindex) on
// the given node.
func (t *Transport) WriteObject(nodeID byte, index uint16, subindex byte, value uint32) error {
	xf := make([]byte, 12)
	xf[0] = byte(OpWriteObject)
	xf[1] = 3
	xf[2] = byte(index)
	xf[3] = byte(index >> 8)
	xf[4] = subindex
	xf[5] = nodeID
	binary.LittleEndian.PutUint32(xf[6:10], value)

	reply, err := t.transact(xf)
	if err != nil {
		return err
	}
	if reply[0] != 0 || len(reply) != 8 || reply[1] != 1 {
		return transportErr(ErrKindBadResponse, "malformed write-object reply")
	}
	code := binary.LittleEndian.Uint32(reply[2:6])
	if code != 0 {
		return deviceErr(code)
	}
	return nil
}

// SendNMTService issues a CANopen NMT service command to a node. The device
// acks the transmission only; there is no reply payload.
func (t *Transport) SendNMTService(nodeID byte, nmtCmd byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return transportErr(ErrKindXmit, "transport not open")
	}
	xf := []byte{
		byte(OpNMTService),
		1,
		nodeID, 0,
		nmtCmd, 0,
		0, 0,
	}
	return t.xmit(xf)
}

// SendCANFrame transmits a raw CAN frame (cobid, up to 8 data bytes) without
// expecting a reply.
func (t *Transport) SendCANFrame(cobid uint16, data []byte) error {
	if len(data) > 8 {
		return transportErr(ErrKindXmit, "CAN frame data exceeds 8 bytes")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return transportErr(ErrKindXmit, "transport not open")
	}
	xf := make([]byte, 16)
	xf[0] = byte(OpCANFrame)
	xf[1] = 5
	binary.LittleEndian.PutUint16(xf[2:4], cobid)
	xf[4] = byte(len(data))
	copy(xf[6:], data)
	return t.xmit(xf)
}

// RequestCANFrame requests an incoming CAN frame be relayed back for the
// given cobid, returning the data bytes received.
func (t *Transport) RequestCANFrame(cobid uint16, wantLen int) ([]byte, error) {
	xf := []byte{
		byte(OpCANFrame),
		1,
		byte(cobid), byte(cobid >> 8),
		byte(wantLen), 0,
		0, 0,
	}
	reply, err := t.transact(xf)
	if err != nil {
		return nil, err
	}
	if reply[0] != 0 || len(reply) != 16 || reply[1] != 5 {
		return nil, transportErr(ErrKindBadResponse, "malformed CAN-frame reply")
	}
	code := binary.LittleEndian.Uint32(reply[2:6])
	if code != 0 {
		return nil, deviceErr(code)
	}
	return reply[6 : 6+wantLen], nil
}
