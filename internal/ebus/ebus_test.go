package ebus_test

import (
	"strings"
	"testing"

	"github.com/avalonsail/actuatorcore/internal/ebus"
)

func TestGetRoundTrip(t *testing.T) {
	line := ebus.FormatGet(0x09011145, 0x6041, 0, 0, false)
	l, ok := ebus.ParseRequest(strings.TrimSuffix(line, "\n"))
	if !ok {
		t.Fatalf("failed to parse formatted GET line %q", line)
	}
	if l.Op != ebus.OpGet || l.Serial != 0x09011145 || l.Index != 0x6041 || l.Subindex != 0 {
		t.Fatalf("unexpected parse result: %+v", l)
	}
}

func TestSetRoundTrip(t *testing.T) {
	line := ebus.FormatSet(0x09011145, 0x6040, 0, 0x6, 0, false)
	l, ok := ebus.ParseRequest(strings.TrimSuffix(line, "\n"))
	if !ok {
		t.Fatalf("failed to parse formatted SET line %q", line)
	}
	if l.Op != ebus.OpSet || l.Value != 0x6 {
		t.Fatalf("unexpected parse result: %+v", l)
	}
}

func TestAckRoundTripWithTimestamp(t *testing.T) {
	line := ebus.FormatAck(0x09011145, 0x6041, 0, 0x237, 123456, true)
	l, ok := ebus.ParseResponse(strings.TrimSuffix(line, "\n"))
	if !ok {
		t.Fatalf("failed to parse formatted ACK line %q", line)
	}
	if l.Op != ebus.OpAck || l.Value != 0x237 || !l.HasUs || l.Us != 123456 {
		t.Fatalf("unexpected parse result: %+v", l)
	}
}

func TestErrRoundTrip(t *testing.T) {
	line := ebus.FormatErr(0x09011145, 0x6040, 0, 0x8100020, 0, false)
	l, ok := ebus.ParseResponse(strings.TrimSuffix(line, "\n"))
	if !ok {
		t.Fatalf("failed to parse formatted ERR line %q", line)
	}
	if l.Op != ebus.OpErr || l.Value != 0x8100020 {
		t.Fatalf("unexpected parse result: %+v", l)
	}
}

func TestSetWithoutValueRejected(t *testing.T) {
	if _, ok := ebus.ParseRequest("0x09011145:0x6040[0] :="); ok {
		t.Fatal("expected SET without value to be rejected")
	}
}

func TestAckLineRejectedAsRequest(t *testing.T) {
	if _, ok := ebus.ParseRequest("0x09011145:0x6041[0] = 0x237"); ok {
		t.Fatal("a reply line must not parse as a request")
	}
}

func TestGarbageRejected(t *testing.T) {
	if _, ok := ebus.Parse("this is not a valid line at all"); ok {
		t.Fatal("expected garbage to be rejected")
	}
}

func TestRegisterIDPacking(t *testing.T) {
	reg := ebus.RegisterID(0x6041, 3)
	idx, sub := ebus.SplitRegisterID(reg)
	if idx != 0x6041 || sub != 3 {
		t.Fatalf("round trip failed: idx=0x%x sub=%d", idx, sub)
	}
}
