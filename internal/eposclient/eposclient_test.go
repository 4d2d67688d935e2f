package eposclient_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/eposclient"
)

type fakeSink struct {
	lines []string
}

func (f *fakeSink) Send(line string) error {
	f.lines = append(f.lines, line)
	return nil
}

func TestCacheMonotonicityAfterSetThenAck(t *testing.T) {
	sink := &fakeSink{}
	bus := eposclient.NewBus(sink, false)
	dev := bus.OpenDevice(0x09011145)
	reg := ebus.RegisterID(0x6040, 0)

	dev.Set(reg, 0x6)
	bus.Receive(fmt.Sprintf("0x%x:0x%x[0] = 0x6", dev.Serial, 0x6040))

	sink.lines = nil
	val, ok := dev.Get(reg)
	if !ok || val != 0x6 {
		t.Fatalf("Get after ack: val=0x%x ok=%v, want 0x6/true", val, ok)
	}
	if len(sink.lines) != 0 {
		t.Fatalf("Get on a Valid entry must not produce bus traffic, got %v", sink.lines)
	}

	dev.Invalidate(reg)
	sink.lines = nil
	_, ok = dev.Get(reg)
	if ok {
		t.Fatal("Get right after Invalidate should not be immediately Valid")
	}
	if len(sink.lines) != 1 {
		t.Fatalf("Get on an Invalid entry must emit exactly one GET line, got %v", sink.lines)
	}
}

func TestPendingSetDeduplication(t *testing.T) {
	sink := &fakeSink{}
	bus := eposclient.NewBus(sink, false)
	dev := bus.OpenDevice(0x09011145)
	reg := ebus.RegisterID(0x6040, 0)

	dev.Set(reg, 0x6)
	dev.Set(reg, 0x6)
	if len(sink.lines) != 1 {
		t.Fatalf("two back-to-back Sets while Pending must emit exactly one SET line, got %d: %v", len(sink.lines), sink.lines)
	}
}

func TestExpirationPendingToInvalid(t *testing.T) {
	sink := &fakeSink{}
	bus := eposclient.NewBus(sink, false)
	now := time.Now()
	bus.Now = func() time.Time { return now }
	dev := bus.OpenDevice(0x09011145)
	reg := ebus.RegisterID(0x6041, 0)

	dev.Get(reg) // Invalid -> Pending

	now = now.Add(1100 * time.Millisecond)
	n := bus.Expire()
	if n != 1 {
		t.Fatalf("Expire should report exactly 1 Pending->Invalid transition, got %d", n)
	}

	sink.lines = nil
	dev.Get(reg)
	if len(sink.lines) != 1 {
		t.Fatalf("register should have reverted to Invalid and reissued a GET, got %v", sink.lines)
	}
}

func TestExpirationValidToInvalid(t *testing.T) {
	sink := &fakeSink{}
	bus := eposclient.NewBus(sink, false)
	now := time.Now()
	bus.Now = func() time.Time { return now }
	dev := bus.OpenDevice(0x09011145)
	reg := ebus.RegisterID(0x6041, 0)

	dev.Get(reg)
	bus.Receive(fmt.Sprintf("0x%x:0x6041[0] = 0x1", dev.Serial))

	now = now.Add(5100 * time.Millisecond)
	n := bus.Expire()
	if n != 0 {
		t.Fatalf("Valid->Invalid transitions must not be counted, got %d", n)
	}

	if _, ok := dev.Get(reg); ok {
		t.Fatal("expired Valid entry should read as not-ready (Invalid, reissues GET)")
	}
}

func TestReceiveOutcomes(t *testing.T) {
	sink := &fakeSink{}
	bus := eposclient.NewBus(sink, false)
	dev := bus.OpenDevice(0x09011145)
	reg := ebus.RegisterID(0x6041, 0)

	if outcome, _ := bus.Receive("garbage line"); outcome != eposclient.ReceiveUnknown {
		t.Fatalf("unparseable line should be ReceiveUnknown, got %v", outcome)
	}

	if outcome, _ := bus.Receive(fmt.Sprintf("0x%x:0x6041[0] = 0x1", dev.Serial)); outcome != eposclient.ReceiveUnknown {
		t.Fatalf("a reply for a never-accessed register should be ReceiveUnknown, got %v", outcome)
	}

	dev.Get(reg)
	if outcome, lat := bus.Receive(fmt.Sprintf("0x%x:0x6041[0] = 0x2", dev.Serial)); outcome != eposclient.ReceiveMine || lat < 0 {
		t.Fatalf("a reply matching our own Pending request should be ReceiveMine, got %v lat=%v", outcome, lat)
	}

	dev.Invalidate(reg) // entry still tracked, but no request outstanding
	if outcome, _ := bus.Receive(fmt.Sprintf("0x%x:0x6041[0] = 0x3", dev.Serial)); outcome != eposclient.ReceiveOther {
		t.Fatalf("a reply for a known, non-Pending register should be ReceiveOther (another client's), got %v", outcome)
	}
}
