package rudder_test

import (
	"fmt"
	"testing"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/eposclient"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/rudder"
)

// scriptedSink answers every GET/SET with an ACK built from a
// caller-supplied register->value table standing in for the fake motor's
// current state. The ACKs are queued and handed to the owning bus by flush,
// after the controller call that issued the requests has returned, the way
// replies arrive from the line bus.
type scriptedSink struct {
	bus     *eposclient.Bus
	values  map[uint32]uint32
	pending []string
}

// flush delivers every queued ACK to the bus.
func (s *scriptedSink) flush() {
	acks := s.pending
	s.pending = nil
	for _, a := range acks {
		s.bus.Receive(a)
	}
}

// settle calls step, delivering queued ACKs between calls, for as long as
// step reports Defunct (blocked on a register read), up to a fixed bound.
func (s *scriptedSink) settle(step func() axis.State) axis.State {
	state := step()
	for i := 0; i < 20 && state == axis.Defunct; i++ {
		s.flush()
		state = step()
	}
	return state
}

func (s *scriptedSink) Send(line string) error {
	l, ok := ebus.ParseRequest(line)
	if !ok {
		return fmt.Errorf("bad request line %q", line)
	}
	reg := ebus.RegisterID(l.Index, l.Subindex)
	if l.Op == ebus.OpSet {
		s.values[reg] = uint32(l.Value)
	}
	val := s.values[reg]
	ack := ebus.FormatAck(l.Serial, l.Index, l.Subindex, int32(val), 0, false)
	s.pending = append(s.pending, ack[:len(ack)-1])
	return nil
}

func newFakeLeft() (*rudder.Controller, *scriptedSink) {
	params := axis.Table[axis.Left]
	sink := &scriptedSink{values: make(map[uint32]uint32)}
	bus := eposclient.NewBus(sink, false)
	sink.bus = bus
	dev := bus.OpenDevice(params.Serial)
	c := rudder.New(params, dev, ratelog.Default("test"))
	return c, sink
}

func TestInitSequenceReachesTargetingAfterHomeref(t *testing.T) {
	c, sink := newFakeLeft()

	// Drive Init forward until it demands OPMODE=HOMING, then simulate the
	// device accepting homing and setting HOMEREF + control handshake.
	var state axis.State
	for i := 0; i < 50 && state != axis.Targeting; i++ {
		state = c.Init()
		if i == 5 {
			// Pretend the device is now homed and in PPM/switched-on shape
			// so the remaining Init calls walk straight through.
			sink.values[axis.RegStatus] = 1 << 15 // STATUS_HOMEREF
			sink.values[axis.RegOpMode] = axis.OpModePPM
			sink.values[axis.RegControl] = axis.ControlSwitchOn
		}
		sink.flush()
	}
	if state != axis.Targeting {
		t.Fatalf("Init did not reach Targeting within bound, last state %v", state)
	}
}

func TestControlHoldsWhenCommandIsNaN(t *testing.T) {
	c, sink := newFakeLeft()
	sink.values[axis.RegStatus] = 1 << 15 // HOMEREF, no fault
	sink.values[axis.RegOpMode] = axis.OpModePPM

	if got := sink.settle(c.Control); got != axis.Reached {
		t.Fatalf("Control() with NaN command = %v, want Reached", got)
	}
}

func TestControlTargetsThenReaches(t *testing.T) {
	c, sink := newFakeLeft()
	sink.values[axis.RegStatus] = 1 << 15
	sink.values[axis.RegOpMode] = axis.OpModePPM

	c.SetCommandedAngle(axis.Table[axis.Left].HomeAngleDeg)

	state := sink.settle(c.Control)
	if state != axis.Targeting {
		t.Fatalf("first Control() = %v, want Targeting (target-reached bit not yet set)", state)
	}

	sink.values[axis.RegStatus] = (1 << 15) | axis.StatusTargetReached
	state = sink.settle(c.Control)
	if state != axis.Reached {
		t.Fatalf("second Control() = %v, want Reached", state)
	}
}

func TestControlFaultReturnsHoming(t *testing.T) {
	c, sink := newFakeLeft()
	sink.values[axis.RegStatus] = axis.StatusFault

	if got := sink.settle(c.Control); got != axis.Homing {
		t.Fatalf("Control() with FAULT set = %v, want Homing", got)
	}
}
