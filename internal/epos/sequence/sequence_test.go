package sequence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avalonsail/actuatorcore/internal/epos/sequence"
)

type fakeWriter struct {
	failFirstN int
	calls      int
	written    []sequence.Cmd
}

func (f *fakeWriter) WriteObject(nodeID byte, index uint16, subindex byte, value uint32) error {
	f.calls++
	if f.calls <= f.failFirstN {
		return errors.New("simulated transient error")
	}
	f.written = append(f.written, sequence.Cmd{Index: index, Subindex: subindex, Value: value})
	return nil
}

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	w := &fakeWriter{failFirstN: 2}
	cmds := []sequence.Cmd{{Index: 0x2070, Subindex: 0, Value: 1}}
	if err := sequence.Run(context.Background(), w, 1, cmds); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.written) != 1 {
		t.Fatalf("expected 1 successful write, got %d", len(w.written))
	}
}

func TestRunGivesUpAfterThreeRetries(t *testing.T) {
	w := &fakeWriter{failFirstN: 100}
	cmds := []sequence.Cmd{{Index: 0x2070, Subindex: 0, Value: 1}}
	err := sequence.Run(context.Background(), w, 1, cmds)
	if err == nil {
		t.Fatal("expected an error")
	}
	var fc *sequence.FailedCmd
	if !errors.As(err, &fc) {
		t.Fatalf("expected *FailedCmd, got %T", err)
	}
	if fc.Pos != 0 {
		t.Fatalf("expected failure at position 0, got %d", fc.Pos)
	}
}

func TestRunStopsAtFirstUnrecoverableCommand(t *testing.T) {
	w := &fakeWriter{failFirstN: 100}
	cmds := []sequence.Cmd{
		{Index: 0x2070, Subindex: 0, Value: 1},
		{Index: 0x2071, Subindex: 0, Value: 2},
	}
	err := sequence.Run(context.Background(), w, 1, cmds)
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(w.written) != 0 {
		t.Fatalf("expected no successful writes, got %d", len(w.written))
	}
}

type fakeReader struct {
	values []uint32
	i      int
}

func (f *fakeReader) ReadObject(nodeID byte, index uint16, subindex byte) (uint32, error) {
	v := f.values[f.i]
	if f.i < len(f.values)-1 {
		f.i++
	}
	return v, nil
}

func TestWaitObjectReturnsOnceMaskMatches(t *testing.T) {
	r := &fakeReader{values: []uint32{0x0000, 0x0000, 0x0437}}
	val, err := sequence.WaitObject(context.Background(), r, 1, 0x6041, 0, 0x0437, 0x0437, time.Second)
	if err != nil {
		t.Fatalf("WaitObject: %v", err)
	}
	if val != 0x0437 {
		t.Fatalf("val = 0x%x, want 0x437", val)
	}
}

func TestWaitObjectTimesOut(t *testing.T) {
	r := &fakeReader{values: []uint32{0x0000}}
	_, err := sequence.WaitObject(context.Background(), r, 1, 0x6041, 0, 0xFFFF, 0x0437, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitObject should time out without read error, got %v", err)
	}
}
