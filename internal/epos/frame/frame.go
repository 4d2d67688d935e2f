// Package frame implements the binary half-duplex serial frame protocol used
// to talk to the EPOS motor controllers over RS-232: a CRC-CCITT-protected
// opcode/length/payload frame with a two-phase ready/send acknowledgement on
// both ends of the wire.
//
// The wire format and CRC convention are a direct translation of the
// avalonsailing eposcom protocol (lib/epos/com.c): opcode and ack bytes are
// exchanged unframed, the payload is little-endian 16-bit words, and the CRC
// slot itself is folded into the checksum as zero.
package frame

import (
	"fmt"

	"github.com/snksoft/crc"
)

// Opcode identifies the kind of transaction carried by a frame.
type Opcode byte

const (
	// OpReadObject reads a single (index, subindex) object dictionary entry.
	OpReadObject Opcode = 0x10
	// OpWriteObject writes a single (index, subindex) object dictionary entry.
	OpWriteObject Opcode = 0x11
	// OpNMTService sends a CANopen NMT service command to a node.
	OpNMTService Opcode = 0x0E
	// OpCANFrame sends or requests a raw CAN frame.
	OpCANFrame Opcode = 0x20
)

const (
	ackReady = 'O'
	ackBad   = 'F'
)

// crcTable is the CRC-CCITT (XMODEM, polynomial 0x1021, no reflection) table,
// the same parameter set nkt/telegram.go uses for its telegram checksum.
var crcTable = crc.NewTable(crc.XMODEM)

// crcWords computes the frame checksum over a complete frame buffer,
// matching lib/epos/com.c's frame_crc word-wise convention: the leading
// opcode/len word is fed as written (opcode, len), every subsequent payload
// word is fed with its two bytes swapped (opcode and len are the other way
// around from the payload words), and the trailing CRC slot itself is always
// folded in as two zero bytes.
func crcWords(buf []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, []byte{buf[0], buf[1]})
	for i := 2; i+2 <= len(buf)-2; i += 2 {
		c = crcTable.UpdateCrc(c, []byte{buf[i+1], buf[i]})
	}
	c = crcTable.UpdateCrc(c, []byte{0, 0})
	return crcTable.CRC16(c)
}

// ErrorKind classifies a transport- or protocol-level failure so callers can
// branch on it without string matching, mirroring the epos_error_str table's
// distinction between device SDO abort codes and raw transport failures.
type ErrorKind int

const (
	// ErrKindNone indicates success.
	ErrKindNone ErrorKind = iota
	// ErrKindXmit indicates a write to the serial port failed.
	ErrKindXmit
	// ErrKindRecv indicates a read from the serial port failed or timed out.
	ErrKindRecv
	// ErrKindNack indicates the peer responded to an ack byte with something
	// other than 'O'.
	ErrKindNack
	// ErrKindBadResponse indicates a structurally malformed reply frame.
	ErrKindBadResponse
	// ErrKindBadCRC indicates the reply's checksum did not match.
	ErrKindBadCRC
	// ErrKindTimeout indicates no frame arrived within the read deadline.
	ErrKindTimeout
	// ErrKindDevice indicates the device reported a non-zero SDO abort code.
	ErrKindDevice
)

// TransportError is returned by Transport's operations and carries both a classified
// ErrorKind and, for ErrKindDevice, the raw device error code so the caller
// can format it with DeviceErrorString.
type TransportError struct {
	Kind   ErrorKind
	Code   uint32
	Detail string
}

func (e *TransportError) Error() string {
	if e.Kind == ErrKindDevice {
		return fmt.Sprintf("device error 0x%08x: %s", e.Code, DeviceErrorString(e.Code))
	}
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("frame error kind %d", e.Kind)
}

func transportErr(kind ErrorKind, detail string) error {
	return &TransportError{Kind: kind, Detail: detail}
}

func deviceErr(code uint32) error {
	return &TransportError{Kind: ErrKindDevice, Code: code}
}

// Synthetic wire codes for non-device transport failures, carried on the
// ERR_OFMT line the same way a real SDO abort code would be, per
// io/rudderd/com.h's EPOS_ERR_BADRESPONSE/NACK/RECV/XMIT/BADCRC/TIMEOUT
// constants (0x081000x0 range, outside any real CANopen abort code).
const (
	wireCodeBadResponse uint32 = 0x08100010
	wireCodeNack        uint32 = 0x08100020
	wireCodeRecv        uint32 = 0x08100030
	wireCodeXmit        uint32 = 0x08100040
	wireCodeBadCRC      uint32 = 0x08100050
	wireCodeTimeout     uint32 = 0x08100060
)

// WireCode returns the 32-bit value an ERR_OFMT line should carry for e: the
// real device SDO abort code for ErrKindDevice, or one of the synthetic
// transport-failure codes above for everything else.
func (e *TransportError) WireCode() uint32 {
	switch e.Kind {
	case ErrKindDevice:
		return e.Code
	case ErrKindBadResponse:
		return wireCodeBadResponse
	case ErrKindNack:
		return wireCodeNack
	case ErrKindRecv:
		return wireCodeRecv
	case ErrKindXmit:
		return wireCodeXmit
	case ErrKindBadCRC:
		return wireCodeBadCRC
	case ErrKindTimeout:
		return wireCodeTimeout
	default:
		return wireCodeBadResponse
	}
}

// deviceErrorStrings mirrors lib/epos/com.c's epos_error_str[] table so
// ERR_OFMT lines and logs carry human-readable SDO abort code text instead of
// bare hex.
var deviceErrorStrings = map[uint32]string{
	0x00000000: "No error.",
	0x05030000: "Toggle bit not alternated.",
	0x05040000: "SDO protocol timed out.",
	0x05040001: "Client/server command specifier not valid or unknown.",
	0x05040005: "Out of memory",
	0x06010000: "Unsupported access to an object.",
	0x06010001: "Attempt to read a write only object.",
	0x06010002: "Attempt to write a read only object.",
	0x06020000: "Object does not exist in the object dictionary.",
	0x06040041: "Object cannot be mapped to the PDO.",
	0x06040042: "The number and length of the objects to be mapped would exceed PDO length.",
	0x06040043: "General parameter incompatibility reason.",
	0x06040047: "General internal incompatibility reason.",
	0x06060000: "Access failed due to an hardware error.",
	0x06070010: "Data type does not match, length of service parameter does not match.",
	0x06070012: "Data type does not match, length of service parameter too high.",
	0x06070013: "Data type does not match, length of service parameter too low.",
	0x06090011: "Sub-index does not exist.",
	0x06090030: "Value range of parameter exceeded (only for write access).",
	0x06090031: "Value of parameter written too high.",
	0x06090032: "Value of parameter written too low.",
	0x06090036: "Maximum value is less than minimum value.",
	0x08000000: "General error.",
	0x08000020: "Data cannot be transferred or stored to the application.",
	0x08000021: "Data cannot be transferred or stored to the application because of local control.",
	0x08000022: "Data cannot be transferred or stored to the application because of the present device state.",
	0x0F00FFC0: "The device is in wrong NMT state.",
	0x0F00FFBF: "The RS232 command is illegal.",
	0x0F00FFBE: "The password is not correct.",
	0x0F00FFBC: "The device is not in service mode.",
	0x0F00FFB9: "Error Node-ID.",
}

// DeviceErrorString returns the human-readable description of a CANopen/SDO
// abort code, or a generic fallback for codes not in the table.
func DeviceErrorString(code uint32) string {
	if s, ok := deviceErrorStrings[code]; ok {
		return s
	}
	return "Unknown device error code"
}
