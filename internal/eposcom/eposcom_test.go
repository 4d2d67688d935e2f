package eposcom

import (
	"testing"

	"github.com/avalonsail/actuatorcore/internal/epos/frame"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

type fakeProber struct {
	serials map[byte]uint32 // nodeid -> serial; absent nodeid never answers
}

func (f *fakeProber) ReadObject(nodeID byte, index uint16, subindex byte) (uint32, error) {
	if index != serialNumberIndex || subindex != serialNumberSubindex {
		return 0, &frame.TransportError{Kind: frame.ErrKindBadResponse}
	}
	s, ok := f.serials[nodeID]
	if !ok {
		return 0, &frame.TransportError{Kind: frame.ErrKindTimeout}
	}
	return s, nil
}

type recordingSink struct {
	lines []string
}

func (s *recordingSink) Send(line string) error {
	s.lines = append(s.lines, line)
	return nil
}

func TestProbeFindsAnsweringNodes(t *testing.T) {
	p := &fakeProber{serials: map[byte]uint32{3: 0x09011145, 7: 0x09010537}}
	sink := &recordingSink{}
	found := Probe(p, sink, ratelog.Default("test"))

	if len(found) != 2 {
		t.Fatalf("found %d nodes, want 2: %v", len(found), found)
	}
	if found[0x09011145] != 3 || found[0x09010537] != 7 {
		t.Fatalf("unexpected node map: %v", found)
	}

	wantSubs := map[string]bool{"$subscribe 0x9011145": false, "$subscribe 0x9010537": false}
	for _, l := range sink.lines {
		if _, ok := wantSubs[l]; ok {
			wantSubs[l] = true
		}
	}
	for l, seen := range wantSubs {
		if !seen {
			t.Fatalf("expected subscribe line %q, got lines %v", l, sink.lines)
		}
	}
}

func TestProbeFindsNothing(t *testing.T) {
	p := &fakeProber{serials: map[byte]uint32{}}
	found := Probe(p, &recordingSink{}, ratelog.Default("test"))
	if len(found) != 0 {
		t.Fatalf("expected no nodes found, got %v", found)
	}
}

func TestMuxHandleLineIgnoresForeignSerial(t *testing.T) {
	m := New(frame.NewTransport("/dev/null", 0), map[uint32]byte{0x09011145: 1}, ratelog.Default("test"))
	_, ok := m.HandleLine("0x09010537:0x6041[0]")
	if ok {
		t.Fatal("expected HandleLine to ignore a serial it does not own")
	}
}

func TestMuxHandleLineIgnoresUnparseable(t *testing.T) {
	m := New(frame.NewTransport("/dev/null", 0), map[uint32]byte{0x09011145: 1}, ratelog.Default("test"))
	_, ok := m.HandleLine("garbage")
	if ok {
		t.Fatal("expected HandleLine to ignore an unparseable line")
	}
}
