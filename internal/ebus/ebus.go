// Package ebus implements the textual line-bus wire grammar: the
// request/response lines that eposcom, linebusd, and the axis controllers
// exchange over the line bus, translated from the avalonsailing ebus.h
// OFMT macros and ebus_parse_req/ebus_parse_rsp/ebus_parse functions.
//
// Every grammar is deliberately strict: a line that is close to valid but
// not exact is rejected rather than guessed at, per the design note that the
// original's sscanf-based parser accepted too much. The one allowance is a
// single trailing newline, so a line as the Format functions emit it parses.
package ebus

import (
	"fmt"
	"regexp"
	"strconv"
)

// Op identifies which of the four line kinds a parsed line carries.
type Op byte

const (
	// OpGet is a GET request: "0x<serial>:0x<index>[<subindex>]".
	OpGet Op = '?'
	// OpSet is a SET request: "... := 0x<value>".
	OpSet Op = ':'
	// OpAck is a success response: "... = 0x<value>".
	OpAck Op = '='
	// OpErr is an error response: "... # 0x<errcode>".
	OpErr Op = '#'
)

// Line is one parsed request or response line.
type Line struct {
	Op       Op
	Serial   uint32
	Index    uint16
	Subindex uint8
	Value    int32 // SET value, ACK value, or ERR code; unused (0) for GET
	HasUs    bool
	Us       uint64
}

var (
	reGet = regexp.MustCompile(`^0x([0-9a-fA-F]+):0x([0-9a-fA-F]+)\[(\d+)\](?: T:(\d+))?\n?$`)
	reSet = regexp.MustCompile(`^0x([0-9a-fA-F]+):0x([0-9a-fA-F]+)\[(\d+)\] := 0x(-?[0-9a-fA-F]+)(?: T:(\d+))?\n?$`)
	reAck = regexp.MustCompile(`^0x([0-9a-fA-F]+):0x([0-9a-fA-F]+)\[(\d+)\] = 0x(-?[0-9a-fA-F]+)(?: T:(\d+))?\n?$`)
	reErr = regexp.MustCompile(`^0x([0-9a-fA-F]+):0x([0-9a-fA-F]+)\[(\d+)\] # 0x(-?[0-9a-fA-F]+)(?: T:(\d+))?\n?$`)
)

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseSignedHex32(s string) (int32, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int32(v), nil
	}
	return int32(v), nil
}

func matchFields(m []string, idx [6]int) (serial uint32, index uint16, sub uint8, err error) {
	serial, err = parseHex32(m[1])
	if err != nil {
		return
	}
	index64, err2 := strconv.ParseUint(m[2], 16, 16)
	if err2 != nil {
		err = err2
		return
	}
	index = uint16(index64)
	sub64, err3 := strconv.ParseUint(m[3], 10, 8)
	if err3 != nil {
		err = err3
		return
	}
	sub = uint8(sub64)
	return
}

// ParseRequest parses a GET or SET line, returning ok=false if the line does
// not match either request grammar.
func ParseRequest(line string) (Line, bool) {
	if m := reSet.FindStringSubmatch(line); m != nil {
		serial, index, sub, err := matchFields(m, [6]int{})
		if err != nil {
			return Line{}, false
		}
		val, err := parseSignedHex32(m[4])
		if err != nil {
			return Line{}, false
		}
		l := Line{Op: OpSet, Serial: serial, Index: index, Subindex: sub, Value: val}
		if m[5] != "" {
			us, err := strconv.ParseUint(m[5], 10, 64)
			if err == nil {
				l.HasUs, l.Us = true, us
			}
		}
		return l, true
	}
	if m := reGet.FindStringSubmatch(line); m != nil {
		serial, index, sub, err := matchFields(m, [6]int{})
		if err != nil {
			return Line{}, false
		}
		l := Line{Op: OpGet, Serial: serial, Index: index, Subindex: sub}
		if m[4] != "" {
			us, err := strconv.ParseUint(m[4], 10, 64)
			if err == nil {
				l.HasUs, l.Us = true, us
			}
		}
		return l, true
	}
	return Line{}, false
}

// ParseResponse parses an ACK or ERR line, returning ok=false if the line
// does not match either response grammar.
func ParseResponse(line string) (Line, bool) {
	if m := reAck.FindStringSubmatch(line); m != nil {
		serial, index, sub, err := matchFields(m, [6]int{})
		if err != nil {
			return Line{}, false
		}
		val, err := parseSignedHex32(m[4])
		if err != nil {
			return Line{}, false
		}
		l := Line{Op: OpAck, Serial: serial, Index: index, Subindex: sub, Value: val}
		if m[5] != "" {
			us, err := strconv.ParseUint(m[5], 10, 64)
			if err == nil {
				l.HasUs, l.Us = true, us
			}
		}
		return l, true
	}
	if m := reErr.FindStringSubmatch(line); m != nil {
		serial, index, sub, err := matchFields(m, [6]int{})
		if err != nil {
			return Line{}, false
		}
		val, err := parseSignedHex32(m[4])
		if err != nil {
			return Line{}, false
		}
		l := Line{Op: OpErr, Serial: serial, Index: index, Subindex: sub, Value: val}
		if m[5] != "" {
			us, err := strconv.ParseUint(m[5], 10, 64)
			if err == nil {
				l.HasUs, l.Us = true, us
			}
		}
		return l, true
	}
	return Line{}, false
}

// Parse attempts ParseRequest then ParseResponse, returning ok=false if
// neither matches.
func Parse(line string) (Line, bool) {
	if l, ok := ParseRequest(line); ok {
		return l, true
	}
	return ParseResponse(line)
}

// FormatGet renders a GET request line, with an optional timestamp.
func FormatGet(serial uint32, index uint16, subindex uint8, us uint64, withTimestamp bool) string {
	if withTimestamp {
		return fmt.Sprintf("0x%x:0x%x[%d] T:%d\n", serial, index, subindex, us)
	}
	return fmt.Sprintf("0x%x:0x%x[%d]\n", serial, index, subindex)
}

// FormatSet renders a SET request line, with an optional timestamp.
func FormatSet(serial uint32, index uint16, subindex uint8, value int32, us uint64, withTimestamp bool) string {
	if withTimestamp {
		return fmt.Sprintf("0x%x:0x%x[%d] := 0x%x T:%d\n", serial, index, subindex, uint32(value), us)
	}
	return fmt.Sprintf("0x%x:0x%x[%d] := 0x%x\n", serial, index, subindex, uint32(value))
}

// FormatAck renders an ACK response line, with an optional timestamp.
func FormatAck(serial uint32, index uint16, subindex uint8, value int32, us uint64, withTimestamp bool) string {
	if withTimestamp {
		return fmt.Sprintf("0x%x:0x%x[%d] = 0x%x T:%d\n", serial, index, subindex, uint32(value), us)
	}
	return fmt.Sprintf("0x%x:0x%x[%d] = 0x%x\n", serial, index, subindex, uint32(value))
}

// FormatErr renders an ERR response line, with an optional timestamp.
func FormatErr(serial uint32, index uint16, subindex uint8, code int32, us uint64, withTimestamp bool) string {
	if withTimestamp {
		return fmt.Sprintf("0x%x:0x%x[%d] # 0x%x T:%d\n", serial, index, subindex, uint32(code), us)
	}
	return fmt.Sprintf("0x%x:0x%x[%d] # 0x%x\n", serial, index, subindex, uint32(code))
}

// RegisterID packs (index, subindex) into the 24-bit key used throughout the
// register cache and frame codec layers.
func RegisterID(index uint16, subindex uint8) uint32 {
	return uint32(index)<<8 | uint32(subindex)
}

// SplitRegisterID is the inverse of RegisterID.
func SplitRegisterID(reg uint32) (index uint16, subindex uint8) {
	return uint16(reg >> 8), uint8(reg)
}
