package ruddersts_test

import (
	"strings"
	"testing"
	"time"

	"github.com/avalonsail/actuatorcore/internal/ruddersts"
)

func TestLosingHomeReportsNaN(t *testing.T) {
	a := ruddersts.New()
	fakeNow := time.Unix(1000, 0)
	a.Now = func() time.Time { return fakeNow }

	a.HandleResponse("0x09011145:0x6041[0] = 0x8000\n") // homed
	a.HandleResponse("0x09011145:0x6064[0] = 0x0\n")     // currpos, now a real angle

	fakeNow = fakeNow.Add(300 * time.Millisecond)
	out, ok := a.HandleResponse("0x09011145:0x6041[0] = 0x0\n") // loses STATUS_REFERENCED
	if !ok {
		t.Fatal("expected a report when a homed rudder loses reference")
	}
	if !strings.Contains(out, "rudder_l_deg:nan") {
		t.Fatalf("rudder losing home should report nan, got %q", out)
	}
}

func TestHomedRudderReportsAngle(t *testing.T) {
	a := ruddersts.New()
	fakeNow := time.Unix(1000, 0)
	a.Now = func() time.Time { return fakeNow }

	a.HandleResponse("0x09011145:0x6041[0] = 0x8000\n") // STATUS_REFERENCED bit (1<<15)
	a.HandleResponse("0x09011145:0x6064[0] = 0x0\n")     // first currpos sample, establishes a baseline

	fakeNow = fakeNow.Add(300 * time.Millisecond)
	out, ok := a.HandleResponse("0x09011145:0x6064[0] = 0x10000\n") // moved enough to count as changed
	if !ok {
		t.Fatal("expected a report once the homed rudder's angle moves")
	}
	if !strings.Contains(out, "rudder_l_deg:") {
		t.Fatalf("missing rudder_l_deg field: %q", out)
	}
}

func TestMinIntervalThrottlesRapidChanges(t *testing.T) {
	a := ruddersts.New()
	fakeNow := time.Unix(1000, 0)
	a.Now = func() time.Time { return fakeNow }

	a.HandleResponse("0x09011145:0x6041[0] = 0x8000\n")
	a.HandleResponse("0x09011145:0x6064[0] = 0x0\n")

	// Let a heartbeat go through so lastAt is anchored to a known instant.
	fakeNow = fakeNow.Add(2 * time.Second)
	_, ok := a.HandleResponse("0x09011145:0x6064[0] = 0x0\n")
	if !ok {
		t.Fatal("expected heartbeat report to go through")
	}

	fakeNow = fakeNow.Add(10 * time.Millisecond)
	_, ok = a.HandleResponse("0x09011145:0x6064[0] = 0x100\n")
	if ok {
		t.Fatal("a change 10ms later should be throttled by MinInterval")
	}
}

func TestMaxIntervalForcesHeartbeat(t *testing.T) {
	a := ruddersts.New()
	fakeNow := time.Unix(1000, 0)
	a.Now = func() time.Time { return fakeNow }

	a.HandleResponse("0x09011145:0x6041[0] = 0x8000\n")
	a.HandleResponse("0x09011145:0x6064[0] = 0x0\n")

	fakeNow = fakeNow.Add(2 * time.Second)
	_, ok := a.HandleResponse("0x09011145:0x6064[0] = 0x0\n") // unchanged value
	if !ok {
		t.Fatal("expected a heartbeat report once MaxInterval has elapsed")
	}
}
